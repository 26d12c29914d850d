package files

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source"
)

// Resolver finds migration files in a file system. Nothing is cached:
// every call reads the directories again.
type Resolver struct {
	fsys     fs.FS
	patterns source.Patterns
}

var _ source.Source = (*Resolver)(nil)

func NewFilesSource(fsys fs.FS, patterns source.Patterns) (*Resolver, error) {
	for _, direction := range []migration.Direction{migration.Up, migration.Down} {
		for _, location := range patterns.DirectionPatterns(direction) {
			if err := validatePattern(location.Pattern); err != nil {
				return nil, err
			}
		}
	}

	return &Resolver{
		fsys:     fsys,
		patterns: patterns,
	}, nil
}

// FindFiles returns every file matching version in any location
// configured for direction. A missing directory matches nothing.
func (r *Resolver) FindFiles(version migration.Version, direction migration.Direction) ([]string, error) {
	var result []string
	seen := make(map[string]struct{})

	for _, location := range r.patterns.DirectionPatterns(direction) {
		matches, err := r.match(location, version)
		if err != nil {
			return nil, err
		}

		for _, match := range matches {
			if _, ok := seen[match]; ok {
				continue
			}
			seen[match] = struct{}{}
			result = append(result, match)
		}
	}

	return result, nil
}

// ResolveOne returns the single file for version and direction. More
// than one match fails with source.ErrAmbiguousMigration; no match is
// not an error.
func (r *Resolver) ResolveOne(version migration.Version, direction migration.Direction) (string, bool, error) {
	files, err := r.FindFiles(version, direction)
	if err != nil {
		return "", false, err
	}

	switch len(files) {
	case 0:
		return "", false, nil
	case 1:
		return files[0], true, nil
	default:
		return "", false, errors.Wrapf(
			source.ErrAmbiguousMigration,
			"version %d %s: %s", version, direction, strings.Join(files, ", "),
		)
	}
}

// LoadPayload reads the resolved file. A file that disappears before it
// is read counts as absent; any other read failure is an error.
func (r *Resolver) LoadPayload(version migration.Version, direction migration.Direction) (source.Payload, bool, error) {
	file, ok, err := r.ResolveOne(version, direction)
	if err != nil || !ok {
		return source.Payload{}, false, err
	}

	contents, err := fs.ReadFile(r.fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return source.Payload{}, false, nil
	}
	if err != nil {
		return source.Payload{}, false, errors.Wrapf(err, "failed to read migration file %s", file)
	}

	return source.Payload{File: file, SQL: string(contents)}, true, nil
}

func (r *Resolver) ReadFile(name string) (string, error) {
	contents, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", name)
	}
	return string(contents), nil
}

func (r *Resolver) match(location source.Location, version migration.Version) ([]string, error) {
	dirEntries, err := fs.ReadDir(r.fsys, location.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read contents of migrations directory %s", location.Dir)
	}

	name := fmt.Sprintf(location.Pattern, int(version))

	var matches []string
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}

		ok, err := path.Match(name, entry.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "bad migration file pattern %q", location.Pattern)
		}
		if !ok {
			continue
		}

		file := path.Join(location.Dir, entry.Name())

		regular, err := r.isRegular(entry, file)
		if err != nil {
			return nil, err
		}
		if regular {
			matches = append(matches, file)
		}
	}

	sort.Strings(matches)

	return matches, nil
}

// isRegular follows symbolic links. A dangling link is not a file.
func (r *Resolver) isRegular(entry fs.DirEntry, file string) (bool, error) {
	if entry.Type().IsRegular() {
		return true, nil
	}

	info, err := fs.Stat(r.fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat migration file %s", file)
	}

	return info.Mode().IsRegular(), nil
}

func validatePattern(pattern string) error {
	formatted := fmt.Sprintf(pattern, 0)
	if strings.Contains(formatted, "%!") || formatted == pattern {
		return errors.Wrapf(source.ErrInvalidPattern, "%q", pattern)
	}
	if _, err := path.Match(formatted, ""); err != nil {
		return errors.Wrapf(source.ErrInvalidPattern, "%q: %v", pattern, err)
	}
	return nil
}
