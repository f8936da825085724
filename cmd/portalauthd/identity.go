package main

import (
	"context"
	"errors"
	"strconv"
	"sync"

	portalauth "github.com/veritaskey/portalauth"
	"github.com/veritaskey/portalauth/password"
)

var errIdentityNotFound = errors.New("identity not found")

type account struct {
	id           string
	username     string
	email        string
	passwordHash string
	disabled     bool
}

// memoryIdentityProvider is a small in-process user directory for the
// daemon. Production deployments implement portalauth.IdentityProvider
// against their own user store; this one exists so the daemon runs
// standalone and for demo seeding.
type memoryIdentityProvider struct {
	mu       sync.RWMutex
	hasher   *password.Hasher
	byName   map[string]*account
	byID     map[string]*account
	nextUser int
}

func newMemoryIdentityProvider() (*memoryIdentityProvider, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return nil, err
	}
	return &memoryIdentityProvider{
		hasher: hasher,
		byName: make(map[string]*account),
		byID:   make(map[string]*account),
	}, nil
}

func (p *memoryIdentityProvider) AddUser(username, email, plaintext string) (string, error) {
	hash, err := p.hasher.Hash(plaintext)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byName[username]; exists {
		return "", errors.New("username taken")
	}

	p.nextUser++
	acct := &account{
		id:           "u-" + strconv.Itoa(p.nextUser),
		username:     username,
		email:        email,
		passwordHash: hash,
	}
	p.byName[username] = acct
	p.byID[acct.id] = acct
	return acct.id, nil
}

func (p *memoryIdentityProvider) Authenticate(_ context.Context, username, plaintext string) (portalauth.User, error) {
	p.mu.RLock()
	acct, ok := p.byName[username]
	p.mu.RUnlock()

	if !ok || acct.disabled {
		return portalauth.User{}, errIdentityNotFound
	}

	match, err := p.hasher.Verify(plaintext, acct.passwordHash)
	if err != nil || !match {
		return portalauth.User{}, errIdentityNotFound
	}

	return portalauth.User{
		ID:       acct.id,
		Username: acct.username,
		Email:    acct.email,
	}, nil
}

func (p *memoryIdentityProvider) UserEmail(_ context.Context, userID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	acct, ok := p.byID[userID]
	if !ok {
		return "", errIdentityNotFound
	}
	return acct.email, nil
}
