package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// errDefaultsStatus is returned by runDefaults when defaults(1) exits with
// status 1, which it does for a missing domain or key.
var errDefaultsStatus = errors.New("defaults exited with status 1")

func runDefaults(args ...string) ([]byte, error) {
	out, err := exec.Command("defaults", args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return out, fmt.Errorf("%w: %s", errDefaultsStatus, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}

// plistValue is one scalar of a property list dict. kind is the plist
// element name; booleans use "bool" with text "true" or "false".
type plistValue struct {
	kind string
	text string
}

// defaultsBackend keeps the config keys in one defaults domain. The whole
// domain is read with a single export and cached until the next write.
type defaultsBackend struct {
	domain string
	run    func(args ...string) ([]byte, error)

	mu     sync.Mutex
	values map[string]plistValue
}

func newDefaultsBackend(domain string, run func(args ...string) ([]byte, error)) *defaultsBackend {
	return &defaultsBackend{domain: domain, run: run}
}

func (b *defaultsBackend) lookup(key string) (plistValue, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		out, err := b.run("export", b.domain, "-")
		switch {
		case errors.Is(err, errDefaultsStatus):
			b.values = map[string]plistValue{}
		case err != nil:
			return plistValue{}, false, fmt.Errorf("exporting defaults domain %s: %w", b.domain, err)
		default:
			vals, err := parsePlistDict(out)
			if err != nil {
				return plistValue{}, false, err
			}
			b.values = vals
		}
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	v, ok, err := b.lookup(key)
	return v.text, ok, err
}

// GetInt accepts integers and numeric strings, since `defaults write`
// without a type flag stores a string.
func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.lookup(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	switch v.kind {
	case "integer", "string":
		i, err := strconv.Atoi(strings.TrimSpace(v.text))
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %q", key, v.text)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("config key %s is a %s, not an integer", key, v.kind)
	}
}

func (b *defaultsBackend) write(args ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = nil
	if _, err := b.run(args...); err != nil {
		return fmt.Errorf("defaults %s %s: %w", args[0], args[2], err)
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write("write", b.domain, key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write("write", b.domain, key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	err := b.write("delete", b.domain, key)
	if errors.Is(err, errDefaultsStatus) {
		return nil
	}
	return err
}

// parsePlistDict reads the scalar entries of the top-level dict of an XML
// property list. Nested arrays and dicts are skipped.
func parsePlistDict(data []byte) (map[string]plistValue, error) {
	out := map[string]plistValue{}
	d := xml.NewDecoder(bytes.NewReader(data))
	inDict := false
	key, haveKey := "", false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parsing defaults export: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !inDict {
				inDict = t.Name.Local == "dict"
				continue
			}
			if t.Name.Local == "key" {
				if err := d.DecodeElement(&key, &t); err != nil {
					return nil, fmt.Errorf("parsing defaults export: %w", err)
				}
				haveKey = true
				continue
			}
			if !haveKey {
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("parsing defaults export: %w", err)
				}
				continue
			}
			haveKey = false
			switch t.Name.Local {
			case "string", "integer", "real", "date":
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return nil, fmt.Errorf("parsing defaults export: %w", err)
				}
				out[key] = plistValue{kind: t.Name.Local, text: text}
			case "true", "false":
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("parsing defaults export: %w", err)
				}
				out[key] = plistValue{kind: "bool", text: t.Name.Local}
			default:
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("parsing defaults export: %w", err)
				}
			}
		case xml.EndElement:
			if inDict && t.Name.Local == "dict" {
				return out, nil
			}
		}
	}
}
