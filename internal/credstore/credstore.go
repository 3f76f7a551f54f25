// Package credstore keeps "remembered" database passwords in the OS credential store.
// Entries are keyed by user@host:port/database, so one machine can remember several servers.
package credstore

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// ServiceName identifies the importer's namespace in the credential store
const ServiceName = "mysql-csv-importer"

// ErrNotStored is returned when no password is remembered for the credentials
var ErrNotStored = errors.New("no remembered password")

// Store reads and writes remembered passwords
type Store struct {
	ring   keyring.Keyring
	Logger *logrus.Logger
}

// Open opens the platform credential store. Platforms without a native store fall back to
// an encrypted file under ~/.mysql-csv-importer that asks for its passphrase on the terminal.
func Open(logger *logrus.Logger) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              ServiceName,
		KeychainTrustApplication: true,
		FileDir:                  "~/.mysql-csv-importer",
		FilePasswordFunc:         keyring.TerminalPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return New(ring, logger), nil
}

// New wraps an already opened keyring
func New(ring keyring.Keyring, logger *logrus.Logger) *Store {
	return &Store{ring: ring, Logger: logger}
}

// Key returns the entry name for creds
func Key(creds models.Credentials) string {
	return creds.Address()
}

// Save remembers the password of creds
func (s *Store) Save(creds models.Credentials) error {
	err := s.ring.Set(keyring.Item{
		Key:         Key(creds),
		Data:        []byte(creds.Password),
		Label:       ServiceName + " " + Key(creds),
		Description: "MySQL password",
	})
	if err != nil {
		s.Logger.Warningf("Could not remember password for %s: %v", Key(creds), err)
		return fmt.Errorf("saving password: %w", err)
	}
	s.Logger.Infof("Remembered password for %s", Key(creds))
	return nil
}

// Load returns the remembered password for creds, or ErrNotStored
func (s *Store) Load(creds models.Credentials) (string, error) {
	item, err := s.ring.Get(Key(creds))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotStored
	}
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(item.Data), nil
}

// Forget removes the remembered password for creds
func (s *Store) Forget(creds models.Credentials) error {
	err := s.ring.Remove(Key(creds))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing password: %w", err)
	}
	return nil
}

// Fill sets creds.Password from the store when it is empty and reports whether it did
func (s *Store) Fill(creds *models.Credentials) bool {
	if creds.Password != "" {
		return false
	}
	password, err := s.Load(*creds)
	if err != nil {
		if !errors.Is(err, ErrNotStored) {
			s.Logger.Warningf("Could not read remembered password: %v", err)
		}
		return false
	}
	creds.Password = password
	s.Logger.Debugf("Using remembered password for %s", Key(*creds))
	return true
}
