package services

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"cropledger/internal/domain"
	"cropledger/internal/repos"
)

var ErrBadCreds = errors.New("invalid owner or pin")

type AuthService struct {
	Owners *repos.OwnerRepo
}

func (s *AuthService) Login(sid, ownerID, pin string) (*domain.Owner, error) {
	o, err := s.Owners.ByID(ownerID)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(o.Hash), []byte(pin)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Owners.BindSession(sid, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *AuthService) Logout(sid string) error {
	return s.Owners.UnbindSession(sid)
}

func (s *AuthService) CurrentOwner(sid string) (*domain.Owner, error) {
	return s.Owners.SessionOwner(sid)
}
