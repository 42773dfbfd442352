// pkg/cli/connections.go

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_err"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/inventory"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/store"
	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/wazuh"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-version"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Sealer turns operator input into the stored form of a secret.
type Sealer interface {
	Seal(value string) (string, error)
}

// ConnectionFile is the document read by connection import and written by
// connection list -o yaml.
type ConnectionFile struct {
	Connections []inventory.Connection `yaml:"connections" json:"connections"`
}

// ImportResult counts what ImportConnections did.
type ImportResult struct {
	Created int
	Updated int
	Failed  int
}

var validate = validator.New()

// SaveConnection validates conn, seals its passwords and stores it. A
// non-deleted connection with the same name is updated in place; empty
// passwords keep the stored ones.
func SaveConnection(ctx context.Context, tables *store.Tables, sealer Sealer, conn *inventory.Connection) (created bool, err error) {
	conn.Name = strings.TrimSpace(conn.Name)
	conn.ApplyDefaults()
	if err := validate.Struct(conn); err != nil {
		return false, eos_err.NewValidationError(fmt.Sprintf("connection %q is invalid", conn.Name), err.Error())
	}

	if conn.APIPassword, err = sealer.Seal(conn.APIPassword); err != nil {
		return false, cerr.Wrapf(err, "seal api password of %q", conn.Name)
	}
	if conn.IndexerPassword, err = sealer.Seal(conn.IndexerPassword); err != nil {
		return false, cerr.Wrapf(err, "seal indexer password of %q", conn.Name)
	}

	existing, err := tables.Connections.Find(ctx, store.Filter{"name": conn.Name, "is_deleted": false})
	if err != nil {
		return false, cerr.Wrapf(err, "look up connection %q", conn.Name)
	}
	now := time.Now().UTC()
	conn.DateMod = now

	if len(existing) == 0 {
		conn.ID = 0
		conn.DateCreation = now
		if err := tables.Connections.Insert(ctx, conn); err != nil {
			return false, cerr.Wrapf(err, "insert connection %q", conn.Name)
		}
		return true, nil
	}

	old := existing[0]
	conn.ID = old.ID
	conn.DateCreation = old.DateCreation
	if conn.LastSync == nil {
		conn.LastSync = old.LastSync
	}
	if conn.APIPassword == "" {
		conn.APIPassword = old.APIPassword
	}
	if conn.IndexerPassword == "" {
		conn.IndexerPassword = old.IndexerPassword
	}
	if err := tables.Connections.Update(ctx, conn); err != nil {
		return false, cerr.Wrapf(err, "update connection %q", conn.Name)
	}
	return false, nil
}

// ImportConnections saves every connection in a ConnectionFile. One bad
// entry does not stop the others; all failures are returned together.
func ImportConnections(ctx context.Context, tables *store.Tables, sealer Sealer, r io.Reader) (ImportResult, error) {
	logger := otelzap.Ctx(ctx)

	var doc ConnectionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return ImportResult{}, eos_err.NewValidationError("connection file is empty")
		}
		return ImportResult{}, eos_err.NewValidationError("connection file is not valid YAML: " + err.Error())
	}

	var (
		res  ImportResult
		errs *multierror.Error
	)
	for i := range doc.Connections {
		conn := doc.Connections[i]
		created, err := SaveConnection(ctx, tables, sealer, &conn)
		switch {
		case err != nil:
			res.Failed++
			errs = multierror.Append(errs, cerr.Wrapf(err, "entry %d", i+1))
		case created:
			res.Created++
		default:
			res.Updated++
		}
	}
	logger.Info("Connections imported",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed))
	return res, errs.ErrorOrNil()
}

// ListConnections returns the non-deleted connections with their secrets
// redacted.
func ListConnections(ctx context.Context, tables *store.Tables) ([]inventory.Connection, error) {
	conns, err := tables.Connections.Find(ctx, store.Filter{"is_deleted": false})
	if err != nil {
		return nil, cerr.Wrap(err, "list connections")
	}
	for i := range conns {
		conns[i].APIPassword = secrets.Redact(conns[i].APIPassword)
		conns[i].IndexerPassword = secrets.Redact(conns[i].IndexerPassword)
	}
	return conns, nil
}

// Prober is the part of the Wazuh client used by CheckConnection.
type Prober interface {
	Authenticate(ctx context.Context, ep wazuh.Endpoint) (string, error)
	ManagerVersion(ctx context.Context, ep wazuh.Endpoint, token string) (*version.Version, error)
}

// CheckResult is what connection test reports.
type CheckResult struct {
	Connection string `json:"connection" yaml:"connection"`
	Manager    string `json:"manager" yaml:"manager"`
	Version    string `json:"version" yaml:"version"`
	UsesIndex  bool   `json:"uses_indexer" yaml:"uses_indexer"`
}

// CheckConnection authenticates against the manager of conn and reads its
// version. Nothing is written.
func CheckConnection(ctx context.Context, prober Prober, resolver secrets.Resolver, conn *inventory.Connection) (CheckResult, error) {
	apiPassword, err := resolver.Resolve(ctx, conn.APIPassword)
	if err != nil {
		return CheckResult{}, cerr.Wrapf(err, "resolve api password of %q", conn.Name)
	}
	ep := wazuh.EndpointFor(conn, apiPassword, "")
	token, err := prober.Authenticate(ctx, ep)
	if err != nil {
		return CheckResult{}, err
	}
	v, err := prober.ManagerVersion(ctx, ep, token)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Connection: conn.Name,
		Manager:    ep.ManagerURL,
		Version:    v.String(),
		UsesIndex:  v.GreaterThanOrEqual(wazuh.IndexerVersion),
	}, nil
}
