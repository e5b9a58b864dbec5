/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timezone validates IANA zone names and converts between UTC and
// local wall-clock time. Zones only affect how instants are shown to people;
// reminder trigger math never goes through this package.
package timezone

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// ErrInvalidTimezone is returned for unknown, empty, or host-dependent names.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Zone is a validated timezone.
type Zone struct {
	name string
	loc  *time.Location
}

// Name returns the IANA identifier.
func (z Zone) Name() string { return z.name }

// Location returns the loaded location; UTC for the zero Zone.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// UTC is the zone used when nothing better is known.
var UTC = Zone{name: "UTC", loc: time.UTC}

// Resolver loads and caches zones. Safe for concurrent use.
type Resolver struct {
	cache    *gocache.Cache
	fallback Zone
	logger   zerolog.Logger
}

type negative struct{}

// NewResolver builds a resolver whose fallback is defaultZone.
func NewResolver(defaultZone string, logger zerolog.Logger) (*Resolver, error) {
	r := &Resolver{
		cache:  gocache.New(gocache.NoExpiration, 0),
		logger: logger.With().Str("component", "timezone").Logger(),
	}
	fallback, err := r.Resolve(defaultZone)
	if err != nil {
		return nil, errors.Wrap(err, "default timezone")
	}
	r.fallback = fallback
	return r, nil
}

// Resolve validates name and returns its zone.
func (r *Resolver) Resolve(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return Zone{}, errors.Wrapf(ErrInvalidTimezone, "%q", name)
	}

	if v, ok := r.cache.Get(name); ok {
		if z, ok := v.(Zone); ok {
			return z, nil
		}
		return Zone{}, errors.Wrapf(ErrInvalidTimezone, "%q", name)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		r.cache.Set(name, negative{}, gocache.NoExpiration)
		return Zone{}, errors.Wrapf(ErrInvalidTimezone, "%q", name)
	}

	z := Zone{name: name, loc: loc}
	r.cache.Set(name, z, gocache.NoExpiration)
	return z, nil
}

// Default returns the configured fallback zone.
func (r *Resolver) Default() Zone {
	return r.fallback
}

// ResolveOrDefault resolves name, falling back to the default zone with a
// warning when the name is unusable.
func (r *Resolver) ResolveOrDefault(name string) Zone {
	z, err := r.Resolve(name)
	if err != nil {
		r.logger.Warn().Err(err).Str("fallback", r.fallback.name).Msg("unusable timezone, using default")
		return r.fallback
	}
	return z
}

// FirstValid returns the first resolvable name in priority order, for example
// candidate, recruiter, city. Falls back to the default zone with a warning.
func (r *Resolver) FirstValid(names ...string) Zone {
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		z, err := r.Resolve(n)
		if err == nil {
			return z
		}
		r.logger.Debug().Err(err).Msg("skipping timezone")
	}
	r.logger.Warn().Strs("candidates", names).Str("fallback", r.fallback.name).Msg("no usable timezone, using default")
	return r.fallback
}

// ToLocal expresses a UTC instant in z.
func ToLocal(utc time.Time, z Zone) time.Time {
	return utc.In(z.Location())
}

// ToUTC interprets the wall-clock fields of local as a time in z. The
// location already attached to local is ignored.
func ToUTC(local time.Time, z Zone) time.Time {
	y, mo, d := local.Date()
	h, mi, s := local.Clock()
	return time.Date(y, mo, d, h, mi, s, local.Nanosecond(), z.Location()).UTC()
}
