// README: Account service: user registration and logout against the identity provider.
package account

import (
	"context"
	"errors"
	"strings"

	"dispatch/internal/docstore"
	"dispatch/internal/logger"
	"dispatch/internal/types"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleRider    Role = "rider"
)

func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleRider
}

var (
	ErrInvalidRole = errors.New("invalid role")
	ErrMissingUID  = errors.New("uid is required")
	ErrNotFound    = errors.New("user not found")
)

// TokenRevoker invalidates every refresh token issued to a user.
type TokenRevoker interface {
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

type User struct {
	UID   types.ID
	Phone string
	Role  Role
	Name  string
}

type RegisterCommand struct {
	UID   types.ID
	Phone string
	Role  Role
	Name  string
}

type Service struct {
	docs    docstore.Store
	revoker TokenRevoker
	log     *logger.Logger
}

func NewService(docs docstore.Store, revoker TokenRevoker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{docs: docs, revoker: revoker, log: log}
}

// Register writes users/{uid}. Riders also get a riders/{uid} wallet with zero balances
// the first time they register; later registrations keep the existing balances.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	if cmd.UID == "" {
		return nil, ErrMissingUID
	}
	if !cmd.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	u := &User{
		UID:   cmd.UID,
		Phone: strings.TrimSpace(cmd.Phone),
		Role:  cmd.Role,
		Name:  strings.TrimSpace(cmd.Name),
	}
	uid := string(cmd.UID)

	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		createWallet := false
		if u.Role == RoleRider {
			_, err := tx.Get(docstore.CollRiders, uid)
			switch {
			case errors.Is(err, docstore.ErrNotFound):
				createWallet = true
			case err != nil:
				return err
			}
		}
		if err := tx.Set(docstore.CollUsers, uid, docstore.Fields{
			"phone":     u.Phone,
			"role":      string(u.Role),
			"name":      u.Name,
			"createdAt": docstore.ServerTimestamp,
		}); err != nil {
			return err
		}
		if !createWallet {
			return nil
		}
		return tx.Set(docstore.CollRiders, uid, docstore.Fields{
			"name":        u.Name,
			"role":        string(RoleRider),
			"coins":       int64(0),
			"totalStars":  int64(0),
			"ratingCount": int64(0),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithField(ctx, "uid", uid), "user registered as "+string(u.Role))
	return u, nil
}

func (s *Service) Get(ctx context.Context, uid types.ID) (*User, error) {
	doc, err := s.docs.Get(ctx, docstore.CollUsers, string(uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &User{
		UID:   uid,
		Phone: doc.Fields.Str("phone"),
		Role:  Role(doc.Fields.Str("role")),
		Name:  doc.Fields.Str("name"),
	}, nil
}

// Logout revokes the user's refresh tokens so other sessions must sign in again.
func (s *Service) Logout(ctx context.Context, uid types.ID) error {
	if uid == "" {
		return ErrMissingUID
	}
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.RevokeRefreshTokens(ctx, string(uid)); err != nil {
		s.log.Error(s.log.WithField(ctx, "uid", string(uid)), "revoke refresh tokens", err)
		return err
	}
	return nil
}
