package lots

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/atomicio"
	"github.com/rollingk/trader/internal/krx"
)

// state is the on-disk document shape.
type state struct {
	Lots []*Lot `json:"lots"`
}

// Store persists a Book as a single JSON document. Writes are atomic; a file
// that fails to parse is quarantined to a timestamped backup and a fresh
// empty book is started, with the event logged at warning level.
type Store struct {
	path string
}

// NewStore returns a store at the given path.
func NewStore(path string) *Store { return &Store{path: path} }

// Load reads the book from disk. A missing file yields an empty book.
func (s *Store) Load() (*Book, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewBook(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lot state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		backup, qerr := atomicio.QuarantineCorrupt(s.path, krx.Now().Unix())
		if qerr != nil {
			return nil, fmt.Errorf("lot state corrupt and quarantine failed: %w", qerr)
		}
		log.Warn().
			Str("path", s.path).
			Str("backup", backup).
			Err(err).
			Msg("lot state corrupt, starting fresh")
		return NewBook(), nil
	}
	book := NewBook()
	for _, lot := range st.Lots {
		if lot == nil {
			continue
		}
		lot.Code = krx.NormalizeCode(lot.Code)
		book.restore(lot)
	}
	return book, nil
}

// Save atomically writes the book to disk.
func (s *Store) Save(book *Book) error {
	st := state{Lots: book.Lots()}
	if st.Lots == nil {
		st.Lots = []*Lot{}
	}
	if err := atomicio.WriteJSON(s.path, st); err != nil {
		return fmt.Errorf("save lot state: %w", err)
	}
	return nil
}
