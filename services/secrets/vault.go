// Package secrets stores small secrets (API tokens...) encrypted at rest.
//
// Each value is sealed with AES-256-GCM under a key derived by scrypt from the
// master key and a per-secret random salt. The secret name is bound to the
// ciphertext as additional data, so a sealed value cannot be moved under another name.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"

	"github.com/roxnlabs/mentora/core"
)

const (
	// The current format of sealed secrets.
	formatVersion = 1

	keySize  = 32 // AES-256
	saltSize = 16
)

// Well-known secrets the API reads at startup when the environment leaves them empty.
const (
	RollbarTokenName   = "ROLLBAR_TOKEN"
	SendgridAPIKeyName = "SENDGRID_API_KEY"
)

var (
	NowFunc = time.Now // mockable

	nameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

	// errors
	ErrNotFound    = errors.New("secret not found")
	ErrNoMasterKey = errors.New("SECRETS_MASTER_KEY is not set")
	ErrInvalidName = errors.New("secret names may only contain letters, digits, '_', '.' and '-'")
	ErrDecrypt     = errors.New("wrong master key or corrupted secret")
	errBadVersion  = errors.New("unsupported secret format version")
)

// Sealed is a secret as stored in the Repository.
type Sealed struct {
	Name       string
	Version    int
	Salt       []byte
	N, R, P    int // scrypt parameters
	Nonce      []byte
	Ciphertext []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Info describes a secret without revealing it.
type Info struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository interface {
	// PutSecret creates or replaces the secret with the same name.
	PutSecret(ctx context.Context, s Sealed) error
	GetSecret(ctx context.Context, name string) (Sealed, error)
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]Sealed, error)
}

type Vault struct {
	repo      Repository
	masterKey []byte
	n, r, p   int
}

func NewVault(conf *core.Config, repo Repository) (*Vault, error) {
	if conf.Secrets.MasterKey == "" {
		return nil, ErrNoMasterKey
	}
	n := 1 << 15
	if conf.TestMode {
		n = 1 << 10 // keep tests fast
	}
	return &Vault{repo: repo, masterKey: []byte(conf.Secrets.MasterKey), n: n, r: 8, p: 1}, nil
}

func (v *Vault) Set(ctx context.Context, name, value string) error {
	if !nameRegex.MatchString(name) {
		return ErrInvalidName
	}
	sealed, err := v.seal(name, []byte(value))
	if err != nil {
		return errors.Wrap(err, "sealing secret")
	}

	now := NowFunc().UTC()
	sealed.CreatedAt = now
	sealed.UpdatedAt = now
	if prev, err := v.repo.GetSecret(ctx, name); err == nil {
		sealed.CreatedAt = prev.CreatedAt
	} else if errors.Cause(err) != ErrNotFound {
		return errors.Wrap(err, "getting secret")
	}
	return errors.Wrap(v.repo.PutSecret(ctx, sealed), "storing secret")
}

func (v *Vault) Get(ctx context.Context, name string) (string, error) {
	sealed, err := v.repo.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	plain, err := v.open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *Vault) Delete(ctx context.Context, name string) error {
	return v.repo.DeleteSecret(ctx, name)
}

// List returns the stored secrets sorted by name.
func (v *Vault) List(ctx context.Context) ([]Info, error) {
	all, err := v.repo.ListSecrets(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing secrets")
	}
	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, Info{Name: s.Name, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Resolve returns `current` when set, else the stored secret `name` ("" when missing).
func (v *Vault) Resolve(ctx context.Context, current, name string) (string, error) {
	if current != "" {
		return current, nil
	}
	val, err := v.Get(ctx, name)
	if errors.Cause(err) == ErrNotFound {
		return "", nil
	}
	return val, err
}

func (v *Vault) seal(name string, plain []byte) (Sealed, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return Sealed{}, err
	}
	aead, err := v.aead(salt, v.n, v.r, v.p)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, err
	}
	return Sealed{
		Name:       name,
		Version:    formatVersion,
		Salt:       salt,
		N:          v.n,
		R:          v.r,
		P:          v.p,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plain, []byte(name)),
	}, nil
}

func (v *Vault) open(s Sealed) ([]byte, error) {
	if s.Version > formatVersion {
		return nil, errBadVersion
	}
	aead, err := v.aead(s.Salt, s.N, s.R, s.P)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}
	plain, err := aead.Open(nil, s.Nonce, s.Ciphertext, []byte(s.Name))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func (v *Vault) aead(salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.masterKey, salt, n, r, p, keySize)
	if err != nil {
		return nil, errors.Wrap(err, "deriving key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
