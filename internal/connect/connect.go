// Package connect resolves a database location into an open storage
// engine. Local paths open directly; s3:// locations are fetched into
// a session cache directory and written back on close.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/garyhukkeri/vectab/internal/storage"
)

// ErrBadLocation is returned for locations that are neither a usable
// local path nor a supported remote URI.
var ErrBadLocation = errors.New("invalid database location")

// DatabaseFile is the name of the SQLite file inside a database
// directory.
const DatabaseFile = "tables.db"

// Location is a parsed database location.
type Location struct {
	// Raw is the string the user supplied.
	Raw string

	// Bucket and Key are set for s3:// locations.
	Bucket string
	Key    string

	// Dir is the local directory holding the database file. For
	// remote locations it is the session cache directory.
	Dir string
}

// Remote reports whether the location lives in object storage.
func (l Location) Remote() bool {
	return l.Bucket != ""
}

// DatabasePath is the local path of the SQLite file.
func (l Location) DatabasePath() string {
	return filepath.Join(l.Dir, DatabaseFile)
}

// ParseLocation classifies a location string. Local paths are created
// if missing; s3://bucket/prefix locations get a per-session cache
// directory.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty location", ErrBadLocation)
	}

	if strings.HasPrefix(raw, "s3://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return Location{}, fmt.Errorf("%w: %q", ErrBadLocation, raw)
		}
		dir, err := os.MkdirTemp("", "vectab-s3-*")
		if err != nil {
			return Location{}, fmt.Errorf("create cache dir: %w", err)
		}
		key := strings.Trim(u.Path, "/")
		if key == "" {
			key = DatabaseFile
		} else {
			key = key + "/" + DatabaseFile
		}
		return Location{Raw: raw, Bucket: u.Host, Key: key, Dir: dir}, nil
	}

	if strings.Contains(raw, "://") {
		return Location{}, fmt.Errorf("%w: unsupported scheme in %q", ErrBadLocation, raw)
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q", ErrBadLocation, raw)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Location{}, fmt.Errorf("create database dir: %w", err)
	}
	return Location{Raw: raw, Dir: abs}, nil
}

// Connection is an open database plus the bookkeeping needed to close
// it, including the write-back of remote databases.
type Connection struct {
	Engine   storage.Engine
	Location Location

	remote *objectStore
	logger *slog.Logger
}

// Provider opens connections and caches them per location, so repeated
// requests for the same database share one engine.
type Provider struct {
	creds   *Credentials
	logger  *slog.Logger
	options storage.Options

	conns map[string]*Connection
}

// NewProvider creates a connection provider. Credentials stay in
// process memory only; nothing in this package persists or logs them.
func NewProvider(creds *Credentials, options storage.Options, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		creds:   creds,
		logger:  logger,
		options: options,
		conns:   map[string]*Connection{},
	}
}

// Connect resolves a location and returns an open connection. The same
// location string returns the same connection for the life of the
// provider.
func (p *Provider) Connect(ctx context.Context, location string) (*Connection, error) {
	if conn, ok := p.conns[location]; ok {
		return conn, nil
	}

	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	conn := &Connection{Location: loc, logger: p.logger}
	if loc.Remote() {
		store, err := newObjectStore(ctx, p.creds)
		if err != nil {
			return nil, err
		}
		conn.remote = store
		if err := store.Fetch(ctx, loc); err != nil {
			return nil, err
		}
	}

	opts := p.options
	opts.Logger = p.logger
	engine, err := storage.OpenSQLite(loc.DatabasePath(), opts)
	if err != nil {
		return nil, err
	}
	conn.Engine = engine

	p.conns[location] = conn
	p.logger.Info("database connected", "location", location, "remote", loc.Remote())
	return conn, nil
}

// Close closes every open connection, uploading remote databases
// before releasing them.
func (p *Provider) Close(ctx context.Context) error {
	var errs []error
	for location, conn := range p.conns {
		if err := conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", location, err))
		}
		delete(p.conns, location)
	}
	return errors.Join(errs...)
}

// Close closes the engine and, for remote locations, writes the
// database back to object storage and removes the cache directory.
func (c *Connection) Close(ctx context.Context) error {
	var errs []error
	if c.Engine != nil {
		if err := c.Engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.remote != nil {
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if err := c.remote.Store(uploadCtx, c.Location); err != nil {
			errs = append(errs, err)
		} else if err := os.RemoveAll(c.Location.Dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
