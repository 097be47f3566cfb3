// Package migrations embeds the PostgreSQL schema migrations and validates their layout.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

var (
	// ErrNoMigrations is returned when the filesystem holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrInvalidFilename is returned for .sql files that do not follow 001_name.(up|down).sql.
	ErrInvalidFilename = errors.New("invalid migration filename")

	// ErrUnpaired is returned when an up migration has no down migration or vice versa.
	ErrUnpaired = errors.New("unpaired migration")

	// ErrSequenceGap is returned when migration sequence numbers are not contiguous from 001.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info contains parsed information about a migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// FS returns the embedded migration files.
func FS() fs.FS {
	return embedded
}

// List parses every .sql file in fsys, sorted by filename.
func List(fsys fs.FS) ([]Info, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		info, err := parseFilename(entry.Name())
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b Info) int {
		if a.Filename < b.Filename {
			return -1
		}

		if a.Filename > b.Filename {
			return 1
		}

		return 0
	})

	return infos, nil
}

// Validate checks naming, up/down pairing and sequence contiguity of the migrations in fsys.
func Validate(fsys fs.FS) error {
	infos, err := List(fsys)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		return ErrNoMigrations
	}

	directions := make(map[int]map[string]bool)

	for _, info := range infos {
		if directions[info.Sequence] == nil {
			directions[info.Sequence] = make(map[string]bool)
		}

		directions[info.Sequence][info.Direction] = true
	}

	sequences := make([]int, 0, len(directions))

	for seq, dirs := range directions {
		if !dirs["up"] || !dirs["down"] {
			return fmt.Errorf("%w: %03d", ErrUnpaired, seq)
		}

		sequences = append(sequences, seq)
	}

	slices.Sort(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, i+1, seq)
		}
	}

	return nil
}

func parseFilename(filename string) (Info, error) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return Info{}, fmt.Errorf("%w: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			ErrInvalidFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", ErrInvalidFilename, filename, err)
	}

	return Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}
