// Package auth はパスワード認証とOAuth認証のフロー、トークン発行、セッション記録を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/captcha"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) bool
}

// TokenIssuer はベアラートークンを発行する。
type TokenIssuer interface {
	Issue(userID, email string) (string, time.Time, error)
}

// OAuthBridge はOAuth認可フローの開始と完了を行う。
type OAuthBridge interface {
	Begin(ctx context.Context, provider string) (string, error)
	Complete(ctx context.Context, code, state string) (*oauth.Identity, error)
}

// ProfileSanitizer は外部IdPのプロフィール情報を無害化する。
type ProfileSanitizer interface {
	DisplayName(raw string) string
	AvatarURL(raw string) string
}

// Dependencies はServiceが利用するコンポーネント。
type Dependencies struct {
	Users     repository.UserRepository
	Sessions  repository.SessionRepository
	// Tx はユーザー作成とセッション記録を1トランザクションにまとめる。nilの場合は個別に書き込む。
	Tx        repository.Transactor
	Hasher    PasswordHasher
	Tokens    TokenIssuer
	Captcha   captcha.Verifier
	OAuth     OAuthBridge
	Sanitizer ProfileSanitizer
	Metrics   metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	tx        repository.Transactor
	hasher    PasswordHasher
	tokens    TokenIssuer
	captcha   captcha.Verifier
	oauth     OAuthBridge
	sanitizer ProfileSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Dependencies) *Service {
	tx := deps.Tx
	if tx == nil {
		tx = directTx{stores: repository.Stores{Users: deps.Users, Sessions: deps.Sessions}}
	}
	return &Service{
		users:     deps.Users,
		sessions:  deps.Sessions,
		tx:        tx,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		captcha:   deps.Captcha,
		oauth:     deps.OAuth,
		sanitizer: deps.Sanitizer,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// Register はメールアドレスとパスワードでユーザーを登録し、トークンを発行する。
// 入力検証、captcha検証、ユーザー作成の順に行い、重複はDBの一意制約で検出する。
func (s *Service) Register(ctx context.Context, creds Credentials) (*model.AuthResult, error) {
	result, err := s.register(ctx, creds)
	s.recordAttempt(metrics.MethodRegister, err)
	return result, err
}

func (s *Service) register(ctx context.Context, creds Credentials) (*model.AuthResult, error) {
	creds.Email = NormalizeEmail(creds.Email)
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	if err := s.verifyCaptcha(ctx, creds.CaptchaToken); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to hash password: %w", err))
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        creds.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// セッション記録に失敗した場合はユーザー作成も取り消す
	var result *model.AuthResult
	err = s.tx.WithinTx(ctx, func(st repository.Stores) error {
		if err := st.Users.CreatePasswordUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return model.NewEmailConflictError()
			}
			return model.NewInternalError(fmt.Errorf("failed to create user: %w", err))
		}
		var cerr error
		result, cerr = s.completeWith(ctx, st, user.ID, user.Email, creds.UserAgent)
		return cerr
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, model.NewInternalError(err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", user.ID))

	return result, nil
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// ユーザー不在・パスワード未設定・不一致はいずれも同じ認証エラーを返す。
func (s *Service) Login(ctx context.Context, creds Credentials) (*model.AuthResult, error) {
	result, err := s.login(ctx, creds)
	s.recordAttempt(metrics.MethodLogin, err)
	return result, err
}

func (s *Service) login(ctx context.Context, creds Credentials) (*model.AuthResult, error) {
	creds.Email = NormalizeEmail(creds.Email)
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	if err := s.verifyCaptcha(ctx, creds.CaptchaToken); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, creds.Email)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil || !user.HasPassword() || !s.hasher.Verify(creds.Password, user.PasswordHash) {
		return nil, model.NewInvalidCredentialsError()
	}

	return s.complete(ctx, user.ID, user.Email, creds.UserAgent)
}

// BeginOAuth は指定プロバイダーの認可URLを返す。
func (s *Service) BeginOAuth(ctx context.Context, provider string) (string, error) {
	authURL, err := s.oauth.Begin(ctx, provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return "", model.NewUnknownProviderError()
		}
		return "", model.NewInternalError(fmt.Errorf("failed to begin oauth: %w", err))
	}
	return authURL, nil
}

// CompleteOAuth はOAuthコールバックを処理し、トークンを発行する。
// code・stateの欠落はstateストアや外部IdPへのアクセス前に拒否する。
func (s *Service) CompleteOAuth(ctx context.Context, code, state, userAgent string) (*model.AuthResult, error) {
	result, err := s.completeOAuth(ctx, code, state, userAgent)
	s.recordAttempt(metrics.MethodOAuth, err)
	return result, err
}

func (s *Service) completeOAuth(ctx context.Context, code, state, userAgent string) (*model.AuthResult, error) {
	if code == "" || state == "" {
		return nil, model.NewInvalidCallbackError()
	}

	identity, err := s.oauth.Complete(ctx, code, state)
	if err != nil {
		slog.Warn("OAuth認証に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewOAuthFailedError(err)
	}

	user, err := s.resolveOAuthUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	return s.complete(ctx, user.ID, user.Email, userAgent)
}

// resolveOAuthUser は外部IdP identityに対応するユーザーを特定する。
//  1. provider + 外部IDで既存ユーザーを検索
//  2. 同じメールアドレスのユーザーがいれば、IdPがメールを検証済みかつ未紐付けの場合のみ紐付ける
//  3. いなければ新規作成
func (s *Service) resolveOAuthUser(ctx context.Context, identity *oauth.Identity) (*model.User, error) {
	provider := string(identity.Provider)

	user, err := s.users.FindByProviderIdentity(ctx, provider, identity.ExternalID)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to find user by identity: %w", err))
	}
	if user != nil {
		return user, nil
	}

	email := NormalizeEmail(identity.Email)
	name := s.sanitizer.DisplayName(identity.Name)
	avatar := s.sanitizer.AvatarURL(identity.AvatarURL)

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to find user by email: %w", err))
	}
	if existing != nil {
		if !identity.EmailVerified || existing.HasOAuthIdentity() {
			slog.Warn("既存アカウントへのOAuth紐付けを拒否しました",
				slog.String("user_id", existing.ID),
				slog.String("provider", provider),
				slog.Bool("email_verified", identity.EmailVerified),
			)
			return nil, model.NewEmailConflictError()
		}

		err := s.users.LinkOAuthIdentity(ctx, existing.ID, model.LinkedIdentity{
			Provider:  provider,
			OAuthID:   identity.ExternalID,
			FullName:  name,
			AvatarURL: avatar,
		})
		if errors.Is(err, repository.ErrAlreadyLinked) || errors.Is(err, repository.ErrDuplicateIdentity) {
			return nil, model.NewEmailConflictError()
		}
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("failed to link oauth identity: %w", err))
		}

		slog.Info("既存アカウントにOAuth identityを紐付けました",
			slog.String("user_id", existing.ID),
			slog.String("provider", provider),
		)
		return existing, nil
	}

	now := s.now()
	user = &model.User{
		ID:            uuid.New().String(),
		Email:         email,
		OAuthProvider: provider,
		OAuthID:       identity.ExternalID,
		FullName:      name,
		AvatarURL:     avatar,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.users.CreateOAuthUser(ctx, user)
	switch {
	case err == nil:
		slog.Info("OAuthユーザーを作成しました",
			slog.String("user_id", user.ID),
			slog.String("provider", provider),
		)
		return user, nil
	case errors.Is(err, repository.ErrDuplicateIdentity):
		// 同じidentityのコールバックが並行した場合は先に作成された方を使う
		winner, ferr := s.users.FindByProviderIdentity(ctx, provider, identity.ExternalID)
		if ferr != nil || winner == nil {
			return nil, model.NewInternalError(fmt.Errorf("failed to reload user after conflict: %w", err))
		}
		return winner, nil
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, model.NewEmailConflictError()
	default:
		return nil, model.NewInternalError(fmt.Errorf("failed to create oauth user: %w", err))
	}
}

// complete はトークン発行、セッション記録、最終ログイン日時の更新を行う。
// セッション記録に失敗した場合はトークンを返さない。
func (s *Service) complete(ctx context.Context, userID, email, userAgent string) (*model.AuthResult, error) {
	return s.completeWith(ctx, repository.Stores{Users: s.users, Sessions: s.sessions}, userID, email, userAgent)
}

func (s *Service) completeWith(ctx context.Context, st repository.Stores, userID, email, userAgent string) (*model.AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(userID, email)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to issue token: %w", err))
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := st.Sessions.Create(ctx, session); err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to record session: %w", err))
	}

	if err := st.Users.TouchLastLogin(ctx, userID, now); err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to update last login: %w", err))
	}

	return &model.AuthResult{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// verifyCaptcha はcaptchaトークンを検証する。
func (s *Service) verifyCaptcha(ctx context.Context, token string) error {
	ok, err := s.captcha.Verify(ctx, token)
	if err != nil {
		slog.Warn("captcha検証に失敗しました", slog.String("error", err.Error()))
		return model.NewCaptchaFailedError()
	}
	if !ok {
		return model.NewCaptchaFailedError()
	}
	return nil
}

// recordAttempt は認証試行の結果をメトリクスに記録する。
func (s *Service) recordAttempt(method string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAuthAttempt(method, attemptOutcome(err))
}

// attemptOutcome はエラーをメトリクス用の結果ラベルに変換する。
func attemptOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return metrics.OutcomeError
	}
	switch apiErr.Kind {
	case model.KindValidation:
		return metrics.OutcomeValidation
	case model.KindCaptcha:
		return metrics.OutcomeCaptchaFailed
	case model.KindAuthentication:
		return metrics.OutcomeInvalidCredentials
	case model.KindConflict:
		return metrics.OutcomeConflict
	case model.KindOAuth:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// directTx はトランザクションを張らずにfnを実行する。
type directTx struct {
	stores repository.Stores
}

func (d directTx) WithinTx(_ context.Context, fn func(repository.Stores) error) error {
	return fn(d.stores)
}
