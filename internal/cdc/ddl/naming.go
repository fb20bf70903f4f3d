package ddl

import (
	"fmt"
	"sort"
)

// MaxIdentifierLength is the identifier limit shared by several supported dialects.
const MaxIdentifierLength = 30

const (
	JournalSuffix       = "_SYNC"
	WatermarkSuffix     = "_SYNC_VERSION"
	InsertTriggerSuffix = "_INS_SYNC_TRG"
	UpdateTriggerSuffix = "_UPD_SYNC_TRG"
	FunctionSuffix      = "_SYNC_FUNC"
)

// SyncIDColumn is the surrogate journal key, also the only watermark column.
const SyncIDColumn = "SYNC_ID"

// Identifier appends suffix to base. When the result would exceed
// MaxIdentifierLength the base is shortened; the suffix is always kept whole.
func Identifier(base, suffix string) string {
	b, s := []rune(base), []rune(suffix)
	if keep := MaxIdentifierLength - len(s); len(b)+len(s) > MaxIdentifierLength && keep >= 0 {
		b = b[:keep]
	}
	return string(b) + suffix
}

// Names are the generated object names of one replicated table.
type Names struct {
	Table         string
	Journal       string
	Watermark     string
	InsertTrigger string
	UpdateTrigger string
	Function      string
}

// NamesFor derives the generated names of a table.
func NamesFor(table string) Names {
	return Names{
		Table:         table,
		Journal:       Identifier(table, JournalSuffix),
		Watermark:     Identifier(table, WatermarkSuffix),
		InsertTrigger: Identifier(table, InsertTriggerSuffix),
		UpdateTrigger: Identifier(table, UpdateTriggerSuffix),
		Function:      Identifier(table, FunctionSuffix),
	}
}

func (n Names) all() []string {
	return []string{n.Journal, n.Watermark, n.InsertTrigger, n.UpdateTrigger, n.Function}
}

// CheckCollisions fails when two tables of one schema truncate onto the same
// generated identifier.
func CheckCollisions(tables []string) error {
	owner := map[string]string{}
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	for _, t := range sorted {
		for _, id := range NamesFor(t).all() {
			if prev, ok := owner[id]; ok && prev != t {
				return fmt.Errorf("tables %q and %q both generate identifier %q", prev, t, id)
			}
			owner[id] = t
		}
	}
	return nil
}
