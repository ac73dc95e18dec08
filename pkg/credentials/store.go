// Package credentials хранит учётные данные сессий на диске: по каталогу на аккаунт.
package credentials

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tgw_go/pkg/session"
)

const sessionFile = "session.json"

// Store раскладывает файлы сессий по <dir>/<имя>/session.json, где имя есть
// account_id в base64url без выравнивания. Так любой account_id остаётся одним
// безопасным элементом пути.
type Store struct {
	dir    string
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("sessions dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create sessions dir %s", dir)
	}
	return &Store{dir: dir, logger: logger.Named("CREDENTIALS")}, nil
}

// Dir возвращает каталог учётных данных аккаунта.
func (s *Store) Dir(accountID string) string {
	return filepath.Join(s.dir, dirName(accountID))
}

func dirName(accountID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(accountID))
}

func accountFromDir(name string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil || session.ValidateAccountID(string(raw)) != nil {
		return "", false
	}
	return string(raw), true
}

// SessionPath возвращает путь к файлу сессии, который читает и пишет транспорт.
func (s *Store) SessionPath(accountID string) string {
	return filepath.Join(s.Dir(accountID), sessionFile)
}

// Ensure создаёт каталог аккаунта перед первым запуском транспорта.
func (s *Store) Ensure(accountID string) error {
	if err := session.ValidateAccountID(accountID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir(accountID), 0o700); err != nil {
		return errors.Wrapf(err, "create credentials dir for %s", accountID)
	}
	return nil
}

// Exists сообщает, есть ли у аккаунта сохранённая сессия.
func (s *Store) Exists(accountID string) bool {
	if session.ValidateAccountID(accountID) != nil {
		return false
	}
	info, err := os.Stat(s.SessionPath(accountID))
	return err == nil && info.Size() > 0
}

// List возвращает аккаунты с сохранённой сессией, отсортированные по account_id.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read sessions dir %s", s.dir)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := accountFromDir(e.Name())
		if !ok {
			s.logger.Warn("каталог с чужим именем пропущен", zap.String("dir", e.Name()))
			continue
		}
		if !s.Exists(id) {
			s.logger.Debug("каталог без сессии пропущен", zap.String("account_id", id))
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete удаляет все учётные данные аккаунта. Отсутствие каталога ошибкой не считается.
func (s *Store) Delete(accountID string) error {
	if err := session.ValidateAccountID(accountID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir(accountID)); err != nil {
		return errors.Wrapf(err, "remove credentials of %s", accountID)
	}
	s.logger.Info("учётные данные удалены", zap.String("account_id", accountID))
	return nil
}
