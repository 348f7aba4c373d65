package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"echocommand/internal/domain/model"
	"echocommand/internal/metrics"
	"echocommand/internal/repository"
	auth "echocommand/internal/usecase/auth_usecase"

	"github.com/sirupsen/logrus"
)

const maxUserAgentLen = 512

// ログイン失敗は理由を区別しない（ユーザー列挙対策）
const invalidCredentialsMessage = "invalid username or password"

type UserDTO struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
	UserAgent   string
}

type LoginInput struct {
	Username  string
	Password  string
	UserAgent string
}

// register / login / refresh の返却値
type AuthResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	TokenType    string  `json:"tokenType"`
	ExpiresIn    int     `json:"expiresIn"`
	User         UserDTO `json:"user"`
}

type AuthUsecase struct {
	users      repository.UserRepository
	rtRepo     repository.RefreshTokenRepository
	audit      repository.AuditLogRepository
	tm         repository.TransactionManager
	validator  AuthValidator
	hasher     auth.PasswordHasher
	verifier   auth.PasswordVerifier
	issuer     auth.AccessTokenIssuer
	idGen      auth.IDGenerator
	clock      auth.Clock
	refreshTTL time.Duration

	metrics *metrics.Metrics
	log     *logrus.Logger
}

func NewAuthUsecase(
	users repository.UserRepository,
	rtRepo repository.RefreshTokenRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	validator AuthValidator,
	hasher auth.PasswordHasher,
	verifier auth.PasswordVerifier,
	issuer auth.AccessTokenIssuer,
	idGen auth.IDGenerator,
	clock auth.Clock,
	refreshTTL time.Duration,
) *AuthUsecase {
	return &AuthUsecase{
		users:      users,
		rtRepo:     rtRepo,
		audit:      audit,
		tm:         tm,
		validator:  validator,
		hasher:     hasher,
		verifier:   verifier,
		issuer:     issuer,
		idGen:      idGen,
		clock:      clock,
		refreshTTL: refreshTTL,
		log:        logrus.StandardLogger(),
	}
}

func (u *AuthUsecase) WithMetrics(m *metrics.Metrics) *AuthUsecase {
	u.metrics = m
	return u
}

func (u *AuthUsecase) WithLogger(l *logrus.Logger) *AuthUsecase {
	u.log = l
	return u
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	res, err := u.register(ctx, in)
	u.metrics.RecordAuthEvent("register", err == nil)
	return res, err
}

func (u *AuthUsecase) register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, in); err != nil {
		return nil, err
	}

	//重複の事前チェック（分かりやすいメッセージ用。最終的には一意制約で弾く）
	if _, err := u.users.FindByUsername(ctx, in.Username); err == nil {
		return nil, NewConflictError("username already exists")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, NewInternalError(err)
	}
	if _, err := u.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, NewConflictError("email already exists")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, NewInternalError(err)
	}

	//パスワードは必ずハッシュ化して保存（平文保存しない）
	pwHash, err := u.hasher.Hash(in.Password)
	if err != nil {
		return nil, NewInternalError(err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: pwHash,
		DisplayName:  in.DisplayName,
		Role:         model.RoleUser,
		TokenVersion: 0,
		Settings:     "{}",
	}

	//ユーザー作成とトークン発行は同じトランザクション。発行に失敗したらユーザーも残さない
	var res *AuthResponse
	err = u.tm.WithinTx(ctx, func(r repository.TxRepos) error {
		//同時登録は一意制約でどちらかが落ちる
		if err := r.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return NewConflictError("username or email already exists")
			}
			return NewInternalError(err)
		}

		out, err := u.issueTokens(ctx, r.RefreshTokens(), user, in.UserAgent, u.clock.Now())
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.recordAudit(ctx, u.audit, user.ID, model.AuditActionRegister, model.AuditResourceUser, strconv.FormatInt(user.ID, 10), "")
	return res, nil
}

func (u *AuthUsecase) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	res, err := u.login(ctx, in)
	u.metrics.RecordAuthEvent("login", err == nil)
	return res, err
}

func (u *AuthUsecase) login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	if err := u.validator.ValidateLogin(ctx, in.Username, in.Password); err != nil {
		return nil, err
	}

	//ユーザー取得
	user, err := u.users.FindByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// 存在しない場合も照合して時間を揃える
			u.verifier.Verify(in.Password, auth.DummyHash)
			return nil, NewUnauthorizedError(invalidCredentialsMessage)
		}
		return nil, NewInternalError(err)
	}

	//パスワード照合（bcrypt）
	if !u.verifier.Verify(in.Password, user.PasswordHash) {
		return nil, NewUnauthorizedError(invalidCredentialsMessage)
	}

	//last_loginだけ更新。読み込んだemail等は書き戻さない
	now := u.clock.Now()
	if err := u.users.UpdateLastLoginAt(ctx, user.ID, now); err != nil {
		return nil, NewInternalError(err)
	}
	user.LastLoginAt = &now

	res, err := u.issueTokens(ctx, u.rtRepo, user, in.UserAgent, now)
	if err != nil {
		return nil, err
	}

	u.recordAudit(ctx, u.audit, user.ID, model.AuditActionLogin, model.AuditResourceUser, strconv.FormatInt(user.ID, 10), "")
	return res, nil
}

// Refreshは提示されたトークンを1回だけ消費して新しいペアを返す（ローテーション）。
// 同じトークンの同時リクエストは1つだけ成功する。
func (u *AuthUsecase) Refresh(ctx context.Context, refreshTokenPlain string, userAgent string) (*AuthResponse, error) {
	res, err := u.refresh(ctx, refreshTokenPlain, userAgent)
	u.metrics.RecordAuthEvent("refresh", err == nil)
	return res, err
}

func (u *AuthUsecase) refresh(ctx context.Context, refreshTokenPlain string, userAgent string) (*AuthResponse, error) {
	if err := u.validator.ValidateRefresh(ctx, refreshTokenPlain); err != nil {
		return nil, err
	}

	tokenHash := auth.HashToken(refreshTokenPlain)
	now := u.clock.Now()

	var (
		res    *AuthResponse
		reused *model.RefreshToken
	)
	err := u.tm.WithinTx(ctx, func(r repository.TxRepos) error {
		//DB照合
		rt, err := r.RefreshTokens().FindByTokenHash(ctx, tokenHash)
		if err != nil {
			if errors.Is(err, repository.ErrRefreshTokenNotFound) {
				return NewUnauthorizedError("invalid refresh token")
			}
			return NewInternalError(err)
		}

		//ローテーション済みのトークンが再提示された
		if rt.UsedAt != nil {
			reused = rt
			return NewUnauthorizedError("refresh token has already been used")
		}

		//期限切れ・revoked
		if !rt.IsActive(now) {
			return NewUnauthorizedError("refresh token expired or revoked")
		}

		user, err := r.Users().FindByID(ctx, rt.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return NewUnauthorizedError("invalid refresh token")
			}
			return NewInternalError(err)
		}

		//旧tokenを消費。0件なら同時リクエストに負けた
		if err := r.RefreshTokens().MarkUsed(ctx, rt.ID, now); err != nil {
			if errors.Is(err, repository.ErrRefreshTokenNotFound) {
				return NewUnauthorizedError("refresh token has already been used")
			}
			return NewInternalError(err)
		}

		//新tokenは同じトランザクションで保存
		res, err = u.issueTokens(ctx, r.RefreshTokens(), user, userAgent, now)
		return err
	})

	if reused != nil {
		u.log.WithFields(logrus.Fields{
			"user_id":  reused.UserID,
			"token_id": reused.ID,
		}).Warn("rotated refresh token was presented again")
		u.recordAudit(ctx, u.audit, reused.UserID, model.AuditActionRefreshReuse, model.AuditResourceRefreshToken, reused.ID, truncate(userAgent, maxUserAgentLen))
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

// Logoutは冪等。未知・失効済みのトークンでも成功を返す
func (u *AuthUsecase) Logout(ctx context.Context, refreshTokenPlain string) error {
	err := u.logout(ctx, refreshTokenPlain)
	u.metrics.RecordAuthEvent("logout", err == nil)
	return err
}

func (u *AuthUsecase) logout(ctx context.Context, refreshTokenPlain string) error {
	if err := u.validator.ValidateLogout(ctx, refreshTokenPlain); err != nil {
		return err
	}

	rt, err := u.rtRepo.FindByTokenHash(ctx, auth.HashToken(refreshTokenPlain))
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return NewInternalError(err)
	}

	//refreshを失効
	if err := u.rtRepo.Revoke(ctx, rt.ID, u.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return NewInternalError(err)
	}

	u.recordAudit(ctx, u.audit, rt.UserID, model.AuditActionLogout, model.AuditResourceRefreshToken, rt.ID, "")
	return nil
}

// ログイン中ユーザーの情報
func (u *AuthUsecase) Me(ctx context.Context, username string) (*UserDTO, error) {
	user, err := u.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewNotFoundError("user not found")
		}
		return nil, NewInternalError(err)
	}

	dto := toUserDTO(user)
	return &dto, nil
}

// access + refresh を発行。refreshは渡されたrepo（tx内ならtxのrepo）に保存する
func (u *AuthUsecase) issueTokens(ctx context.Context, tokens repository.RefreshTokenRepository, user *model.User, userAgent string, now time.Time) (*AuthResponse, error) {
	accessToken, accessExp, err := u.issuer.Issue(user, now)
	if err != nil {
		return nil, NewInternalError(err)
	}

	refreshPlain, refreshHash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, NewInternalError(err)
	}

	rt := &model.RefreshToken{
		ID:        u.idGen.NewID(),
		UserID:    user.ID,
		TokenHash: refreshHash,
		UserAgent: truncate(userAgent, maxUserAgentLen),
		ExpiresAt: now.Add(u.refreshTTL),
	}
	if err := tokens.Create(ctx, rt); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, NewUnauthorizedError("user no longer exists")
		}
		return nil, NewInternalError(err)
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshPlain,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessExp.Sub(now).Seconds()),
		User:         toUserDTO(user),
	}, nil
}

// 監査ログは失敗しても本処理は止めない
func (u *AuthUsecase) recordAudit(ctx context.Context, audit repository.AuditLogRepository, actorID int64, action model.AuditAction, resType model.AuditResourceType, resID string, detail string) {
	if audit == nil {
		return
	}
	err := audit.Create(ctx, model.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: resType,
		ResourceID:   resID,
		Detail:       detail,
		CreatedAt:    u.clock.Now(),
	})
	if err != nil {
		u.log.WithError(err).WithField("action", action).Error("audit log write failed")
	}
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
	}
}

// nバイト以内に切る。マルチバイト文字の途中では切らない
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
