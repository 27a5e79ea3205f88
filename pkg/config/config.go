/*
Copyright 2024 The CSE Runtime Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config defines the engine's configuration surface and loads it
// from YAML. Values the user leaves out are back-filled from defaults.
package config

import (
	"time"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// Error strings.
const (
	errReadConfig  = "cannot read configuration file"
	errParseConfig = "cannot parse configuration file"
	errMergeConfig = "cannot apply configuration defaults"
)

// Store backend names.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
)

// A Config carries everything the engine needs to run.
type Config struct {
	CSE          CSE          `json:"cse,omitempty"`
	Registration Registration `json:"registration,omitempty"`
	Notification Notification `json:"notification,omitempty"`
	Announcement Announcement `json:"announcement,omitempty"`
	Metrics      Metrics      `json:"metrics,omitempty"`
	ACP          ACP          `json:"acp,omitempty"`
	Store        Store        `json:"store,omitempty"`

	// MaxIDLength bounds generated resource identifiers.
	MaxIDLength int `json:"maxIDLength,omitempty"`
}

// CSE is the hosting CSE's identity.
type CSE struct {
	// CSEID is the SP-relative CSE identifier, e.g. "/id-in".
	CSEID string `json:"cseID,omitempty"`

	// ResourceID is the CSEBase resource identifier, e.g. "id-in".
	ResourceID string `json:"resourceID,omitempty"`

	// ResourceName is the CSEBase resource name, the first segment of
	// every structured address, e.g. "cse-in".
	ResourceName string `json:"resourceName,omitempty"`

	// Originator is the CSE's own originator, which passes every access
	// control check, e.g. "CAdmin".
	Originator string `json:"originator,omitempty"`

	// Type is the CSE kind: IN, MN or ASN.
	Type string `json:"type,omitempty"`

	// SupportedReleaseVersions is announced on the CSEBase and stamped
	// into registered AEs that do not supply their own.
	SupportedReleaseVersions []string `json:"supportedReleaseVersions,omitempty"`

	// PointOfAccess lists the addresses remote entities may reach this
	// CSE on.
	PointOfAccess []string `json:"pointOfAccess,omitempty"`
}

// CSEType returns the configured CSE kind, or zero when invalid.
func (c CSE) CSEType() onem2m.CSEType {
	switch c.Type {
	case "IN":
		return onem2m.CSETypeIN
	case "MN":
		return onem2m.CSETypeMN
	case "ASN":
		return onem2m.CSETypeASN
	}
	return 0
}

// Registration controls AE and remote CSE admission.
type Registration struct {
	// AllowedAEOriginators lists glob patterns an AE originator must
	// match to register.
	AllowedAEOriginators []string `json:"allowedAEOriginators,omitempty"`

	// AllowedCSROriginators lists glob patterns a remote CSE originator
	// must match to register.
	AllowedCSROriginators []string `json:"allowedCSROriginators,omitempty"`

	// CheckExpirationsInterval is how often the expiration sweep runs.
	// Zero disables the sweep.
	CheckExpirationsInterval metav1.Duration `json:"checkExpirationsInterval,omitempty"`

	// DefaultExpirationDelta is the expiration time stamped onto created
	// resources that do not supply one.
	DefaultExpirationDelta metav1.Duration `json:"defaultExpirationDelta,omitempty"`
}

// Notification controls outbound notification delivery.
type Notification struct {
	// RequestTimeout bounds one delivery attempt.
	RequestTimeout metav1.Duration `json:"requestTimeout,omitempty"`

	// Workers is the delivery fan-out bound.
	Workers int `json:"workers,omitempty"`

	// RequeueLimit is how many times a failed delivery is retried before
	// its target is dropped.
	RequeueLimit int `json:"requeueLimit,omitempty"`

	// RateLimit and RateBurst bound the aggregate delivery rate.
	RateLimit float64 `json:"rateLimit,omitempty"`
	RateBurst int     `json:"rateBurst,omitempty"`
}

// Announcement controls announced-resource replication.
type Announcement struct {
	// RequestTimeout bounds one announcement request.
	RequestTimeout metav1.Duration `json:"requestTimeout,omitempty"`

	// RetrySteps and RetryInterval shape the bounded retry of a failed
	// announcement round.
	RetrySteps    int             `json:"retrySteps,omitempty"`
	RetryInterval metav1.Duration `json:"retryInterval,omitempty"`
}

// Metrics controls Prometheus state recording.
type Metrics struct {
	// StateInterval is how often hosted-resource state is recorded. Zero
	// disables the recorder.
	StateInterval metav1.Duration `json:"stateInterval,omitempty"`
}

// ACP controls the access control policies the engine creates itself.
type ACP struct {
	// PVSAcop is the self-permission mask granted to the holder of an
	// internally created policy.
	PVSAcop int64 `json:"pvsAcop,omitempty"`
}

// Store selects and configures the persistence backend.
type Store struct {
	// Type is "memory" or "file".
	Type string `json:"type,omitempty"`

	// Directory is the data directory of the file backend.
	Directory string `json:"directory,omitempty"`
}

// Default returns the canonical defaults: an IN-CSE with an in-memory
// store.
func Default() Config {
	return Config{
		CSE: CSE{
			CSEID:                    "/id-in",
			ResourceID:               "id-in",
			ResourceName:             "cse-in",
			Originator:               "CAdmin",
			Type:                     "IN",
			SupportedReleaseVersions: []string{"2a", "3", "4"},
			PointOfAccess:            []string{"http://127.0.0.1:8080"},
		},
		Registration: Registration{
			AllowedAEOriginators:     []string{"C*", "S*"},
			CheckExpirationsInterval: metav1.Duration{Duration: 2000 * time.Second},
			DefaultExpirationDelta:   metav1.Duration{Duration: 365 * 24 * time.Hour},
		},
		Notification: Notification{
			RequestTimeout: metav1.Duration{Duration: 5 * time.Second},
			Workers:        4,
			RequeueLimit:   5,
			RateLimit:      10,
			RateBurst:      100,
		},
		Announcement: Announcement{
			RequestTimeout: metav1.Duration{Duration: 5 * time.Second},
			RetrySteps:     5,
			RetryInterval:  metav1.Duration{Duration: time.Second},
		},
		Metrics: Metrics{
			StateInterval: metav1.Duration{Duration: 30 * time.Second},
		},
		ACP: ACP{
			PVSAcop: int64(onem2m.AllPermissions),
		},
		Store: Store{
			Type: StoreMemory,
		},
		MaxIDLength: 10,
	}
}

// Load reads the YAML configuration at path and back-fills everything it
// leaves out from Default. An empty path returns Default.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		b, err := afero.ReadFile(fs, path)
		if err != nil {
			return Config{}, errors.Wrap(err, errReadConfig)
		}
		if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
			return Config{}, errors.Wrap(err, errParseConfig)
		}
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, errors.Wrap(err, errMergeConfig)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.CSE.CSEID == "" || c.CSE.ResourceID == "" || c.CSE.ResourceName == "" || c.CSE.Originator == "" {
		return errors.New("cse identity (cseID, resourceID, resourceName, originator) must be set")
	}
	if c.CSE.CSEType() == 0 {
		return errors.Errorf("cse type %q must be one of IN, MN, ASN", c.CSE.Type)
	}
	if c.CSE.CSEType() == onem2m.CSETypeASN && len(c.Registration.AllowedCSROriginators) > 0 {
		return errors.New("an ASN-CSE does not accept remote CSE registrations")
	}
	if c.Notification.RequestTimeout.Duration <= 0 || c.Announcement.RequestTimeout.Duration <= 0 {
		return errors.New("request timeouts must be positive")
	}
	if c.Notification.Workers <= 0 || c.Notification.RequeueLimit < 1 {
		return errors.New("notification workers and requeue limit must be positive")
	}
	if c.Registration.CheckExpirationsInterval.Duration < 0 {
		return errors.New("expiration check interval cannot be negative")
	}
	if c.Metrics.StateInterval.Duration < 0 {
		return errors.New("metrics state interval cannot be negative")
	}
	if c.MaxIDLength < 4 {
		return errors.New("maxIDLength must allow at least 4 characters")
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreFile:
		if c.Store.Directory == "" {
			return errors.New("the file store needs a directory")
		}
	default:
		return errors.Errorf("store type %q must be %q or %q", c.Store.Type, StoreMemory, StoreFile)
	}
	return nil
}
