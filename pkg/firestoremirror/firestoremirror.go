// Package firestoremirror optionally mirrors validated results to Firestore
// for a dashboard UI to read. It is grounded on the teacher's
// pkg/firestore/client.go enable-flag/no-op pattern and
// pkg/firestore/audit_trail.go's per-record write shape, repurposed from
// proof-cycle sync to this core's validated-result sync; like the teacher's
// client, a disabled mirror is a safe no-op rather than an error.
package firestoremirror

import (
	"context"
	"os"
	"strconv"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/logging"
)

// Config controls whether the mirror connects to Firestore at all.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *logging.Logger
}

// DefaultConfig reads the same environment variables the teacher's Firestore
// client did, under this core's own enable flag.
func DefaultConfig() Config {
	return Config{
		ProjectID:       os.Getenv("FIRESTORE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("SAPPP_MIRROR_ENABLED", false),
		Logger:          logging.New("firestoremirror", logging.LevelInfo),
	}
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Mirror wraps a Firestore client. A disabled Mirror performs every
// operation as a no-op, so callers never need to branch on cfg.Enabled
// themselves.
type Mirror struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	enabled   bool
	logger    *logging.Logger
}

// New connects to Firestore per cfg, or returns a no-op Mirror if disabled.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("firestoremirror", logging.LevelInfo)
	}
	m := &Mirror{enabled: cfg.Enabled, logger: cfg.Logger}
	if !cfg.Enabled {
		cfg.Logger.Infof("firestore mirror disabled, running in no-op mode")
		return m, nil
	}
	if cfg.ProjectID == "" {
		return nil, errkind.New(errkind.KindRuleViolation, "firestoremirror: project ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "initialize firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "create firestore client")
	}

	m.app = app
	m.firestore = client
	cfg.Logger.Infof("firestore mirror initialized for project %s", cfg.ProjectID)
	return m, nil
}

// IsEnabled reports whether m actually talks to Firestore.
func (m *Mirror) IsEnabled() bool { return m.enabled }

// Close releases the underlying Firestore client, if any.
func (m *Mirror) Close() error {
	if m.firestore != nil {
		return m.firestore.Close()
	}
	return nil
}

// ValidatedResultRecord is the document shape written to the
// "validated_results" collection, one per po_id.
type ValidatedResultRecord struct {
	PoID            string `firestore:"po_id"`
	Category        string `firestore:"category"`
	CertificateRoot string `firestore:"certificate_root,omitempty"`
	ValidatorStatus string `firestore:"validator_status"`
	RunID           string `firestore:"run_id"`
}

// MirrorValidatedResults writes one document per record, keyed by po_id, to
// the "validated_results" collection. A disabled Mirror does nothing.
func (m *Mirror) MirrorValidatedResults(ctx context.Context, records []ValidatedResultRecord) error {
	if !m.enabled {
		return nil
	}
	col := m.firestore.Collection("validated_results")
	for _, r := range records {
		if _, err := col.Doc(r.PoID).Set(ctx, r); err != nil {
			return errkind.Wrap(errkind.KindIO, err, "mirror validated result %s", r.PoID)
		}
	}
	return nil
}
