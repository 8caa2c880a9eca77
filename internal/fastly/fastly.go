package fastly

import (
	"context"
	"errors"
	"fmt"
)

// Client provides the versioned configuration operations used by the sync
// engine. Implementations talk to one service, identified at construction.
type Client interface {
	// ListVersions returns every configuration version of the service
	ListVersions(ctx context.Context) ([]Version, error)
	// ListVCLs returns the VCL files attached to a version
	ListVCLs(ctx context.Context, version int) ([]VCL, error)
	// CloneVersion creates a new inactive version as a copy of an existing one
	CloneVersion(ctx context.Context, version int) (Version, error)
	// CreateVCL adds a new VCL file to a version
	CreateVCL(ctx context.Context, version int, name, content string) error
	// UpdateVCL replaces the content of an existing VCL file on a version
	UpdateVCL(ctx context.Context, version int, name, content string) error
	// DeleteVCL removes a VCL file from a version
	DeleteVCL(ctx context.Context, version int, name string) error
	// SetMainVCL designates the main entrypoint VCL of a version
	SetMainVCL(ctx context.Context, version int, name string) error
	// ValidateVersion asks the service to validate a version
	ValidateVersion(ctx context.Context, version int) (ValidationResult, error)
	// ActivateVersion makes a version the live configuration
	ActivateVersion(ctx context.Context, version int) (Version, error)
}

// Version is one configuration revision of a service
type Version struct {
	Number int  `json:"number"`
	Active bool `json:"active"`
	Locked bool `json:"locked"`
}

// VCL is one VCL file within a version
type VCL struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Main    bool   `json:"main"`
}

// ValidationResult is the service's verdict on a version
type ValidationResult struct {
	Status  string `json:"status"`
	Message string `json:"msg"`
}

// OK returns true if the service reported the version as valid
func (r ValidationResult) OK() bool {
	return r.Status == "ok"
}

var (
	// ErrNoActiveVersion is returned when the service has no active version
	ErrNoActiveVersion = errors.New("service has no active version")
	// ErrMultipleActiveVersions is returned when more than one version is
	// flagged active, which violates the service's own invariant
	ErrMultipleActiveVersions = errors.New("service has multiple active versions")
)

// FindActiveVersion returns the single version flagged active. Zero or more
// than one active version is an explicit error rather than an arbitrary pick.
func FindActiveVersion(versions []Version) (Version, error) {
	var active Version
	found := false

	for _, v := range versions {
		if !v.Active {
			continue
		}
		if found {
			return Version{}, fmt.Errorf("%w: versions %d and %d", ErrMultipleActiveVersions, active.Number, v.Number)
		}
		active = v
		found = true
	}

	if !found {
		return Version{}, ErrNoActiveVersion
	}
	return active, nil
}
