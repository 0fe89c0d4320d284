package olm

import (
	"sealchat/internal/domain"
	"sealchat/internal/protocol/megolm"
)

// Library implements domain.CipherLibrary.
type Library struct{}

var _ domain.CipherLibrary = Library{}

// New returns the cipher library.
func New() Library { return Library{} }

func (Library) NewAccount() (domain.Account, error) {
	a, err := NewAccount()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (Library) AccountFromPickle(key domain.PickleKey, p domain.Pickle) (domain.Account, error) {
	a, err := accountFromPickle(key, p)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (Library) SessionFromPickle(key domain.PickleKey, p domain.Pickle) (domain.Session, error) {
	s, err := sessionFromPickle(key, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (Library) NewGroupSession() (domain.GroupSession, error) {
	s, err := megolm.NewOutboundSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (Library) GroupSessionFromPickle(key domain.PickleKey, p domain.Pickle) (domain.GroupSession, error) {
	s, err := megolm.OutboundFromPickle(key, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (Library) NewInboundGroupSession(sessionKey string, sender domain.Curve25519Public) (domain.InboundGroupSession, error) {
	s, err := megolm.NewInboundSession(sessionKey)
	if err != nil {
		return nil, err
	}
	s.Sender = sender
	return s, nil
}

func (Library) InboundGroupSessionFromPickle(key domain.PickleKey, p domain.Pickle) (domain.InboundGroupSession, error) {
	s, err := megolm.InboundFromPickle(key, p)
	if err != nil {
		return nil, err
	}
	return s, nil
}
