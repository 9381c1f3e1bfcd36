// Package permission implements the per-origin capability grant store. It is
// the single writer of grants; every mutating call either fully applies or
// fully rejects, and each mutation publishes a fresh deep-copied snapshot.
package permission

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/wallet-core/db"
	walleterrors "github.com/pushchain/wallet-core/errors"
	"github.com/pushchain/wallet-core/events"
	"github.com/pushchain/wallet-core/store"
	"github.com/pushchain/wallet-core/types"
)

// CapabilityResolver maps an inbound method name to the capability it
// requires. Injected by the namespace adapter.
type CapabilityResolver interface {
	RequiredCapability(method string) (types.Capability, bool)
}

// Canonicalizer normalizes an account address for one namespace.
type Canonicalizer func(address string) (string, error)

// Grant is the externally visible form of one (origin, chain) grant.
type Grant struct {
	Origin       string             `json:"origin"`
	Namespace    string             `json:"namespace"`
	ChainRef     types.ChainRef     `json:"chain_ref"`
	Capabilities []types.Capability `json:"capabilities"`
	Accounts     []string           `json:"accounts,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func cloneGrant(g Grant) Grant {
	out := g
	out.Capabilities = append([]types.Capability(nil), g.Capabilities...)
	out.Accounts = append([]string(nil), g.Accounts...)
	return out
}

func cloneGrants(gs []Grant) []Grant {
	out := make([]Grant, len(gs))
	for i, g := range gs {
		out[i] = cloneGrant(g)
	}
	return out
}

// Store answers "is origin X allowed to do Y on chain Z".
type Store struct {
	mu             sync.Mutex
	database       *db.DB
	resolver       CapabilityResolver
	canonicalizers map[string]Canonicalizer
	topic          *events.Topic[[]Grant]
	logger         zerolog.Logger
}

// NewStore creates a permission store backed by the wallet database.
func NewStore(database *db.DB, resolver CapabilityResolver, logger zerolog.Logger) *Store {
	return &Store{
		database:       database,
		resolver:       resolver,
		canonicalizers: make(map[string]Canonicalizer),
		topic:          events.NewTopic[[]Grant](events.TopicPermissionState, cloneGrants, logger),
		logger:         logger.With().Str("component", "permission_store").Logger(),
	}
}

// RegisterCanonicalizer installs the address canonicalizer for a namespace.
func (s *Store) RegisterCanonicalizer(namespace string, fn Canonicalizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canonicalizers[namespace] = fn
}

// Topic exposes the grant snapshot topic for UI subscription.
func (s *Store) Topic() *events.Topic[[]Grant] {
	return s.topic
}

// resolveScope validates chainRef, derives the namespace when omitted, and
// rejects a conflicting explicit namespace.
func resolveScope(namespace string, chainRef types.ChainRef) (string, error) {
	if err := chainRef.Validate(); err != nil {
		return "", walleterrors.NewValidationError(err.Error())
	}
	derived := chainRef.Namespace()
	if namespace == "" {
		return derived, nil
	}
	if namespace != derived {
		return "", walleterrors.NewValidationError(
			"namespace " + namespace + " conflicts with chain reference " + chainRef.String())
	}
	return namespace, nil
}

// Grant adds a capability for an origin on one chain. The Accounts capability
// cannot be granted through this path; it travels only with a non-empty
// account list via SetPermittedAccounts, so an empty-account "connected"
// state is unrepresentable.
func (s *Store) Grant(origin string, capability types.Capability, namespace string, chainRef types.ChainRef) error {
	if origin == "" {
		return walleterrors.NewValidationError("origin is required")
	}
	if !capability.Valid() {
		return walleterrors.NewValidationError("unknown capability " + string(capability))
	}
	if capability == types.CapabilityAccounts {
		return walleterrors.NewValidationError("accounts capability must be granted via SetPermittedAccounts")
	}
	ns, err := resolveScope(namespace, chainRef)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, caps, accounts, err := s.loadRecord(origin, ns, chainRef)
	if err != nil {
		return err
	}
	if containsCapability(caps, capability) {
		return nil
	}
	caps = append(caps, capability)

	if err := s.saveRecord(record, origin, ns, chainRef, caps, accounts); err != nil {
		return err
	}
	s.logger.Info().
		Str("origin", origin).
		Str("chain", chainRef.String()).
		Str("capability", string(capability)).
		Msg("capability granted")
	s.publishLocked()
	return nil
}

// SetPermittedAccounts replaces the exposed account list for an origin on one
// chain, granting the Accounts capability atomically alongside it. The list
// is canonicalized and deduplicated and must end up non-empty. A resulting
// list identical to the current one is a no-op (no publish).
func (s *Store) SetPermittedAccounts(origin string, namespace string, chainRef types.ChainRef, accounts []string) error {
	if origin == "" {
		return walleterrors.NewValidationError("origin is required")
	}
	ns, err := resolveScope(namespace, chainRef)
	if err != nil {
		return err
	}

	canonical, err := s.canonicalize(ns, accounts)
	if err != nil {
		return err
	}
	if len(canonical) == 0 {
		return walleterrors.NewValidationError("at least one account is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, caps, current, err := s.loadRecord(origin, ns, chainRef)
	if err != nil {
		return err
	}
	if equalStrings(current, canonical) && containsCapability(caps, types.CapabilityAccounts) {
		return nil
	}
	if !containsCapability(caps, types.CapabilityAccounts) {
		caps = append(caps, types.CapabilityAccounts)
	}

	if err := s.saveRecord(record, origin, ns, chainRef, caps, canonical); err != nil {
		return err
	}
	s.logger.Info().
		Str("origin", origin).
		Str("chain", chainRef.String()).
		Int("accounts", len(canonical)).
		Msg("permitted accounts updated")
	s.publishLocked()
	return nil
}

// AssertPermission fails unless the origin holds the capability that method
// requires. A concrete chainRef demands a grant scoped to exactly that chain;
// an empty chainRef accepts any chain grant within the namespace.
func (s *Store) AssertPermission(origin string, method string, namespace string, chainRef types.ChainRef) error {
	capability, ok := s.resolver.RequiredCapability(method)
	if !ok {
		return walleterrors.NewValidationError("no capability mapping for method " + method)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grants, err := s.grantsFor(origin)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if chainRef != "" && g.ChainRef != chainRef {
			continue
		}
		if chainRef == "" && g.Namespace != namespace {
			continue
		}
		if containsCapability(g.Capabilities, capability) {
			return nil
		}
	}
	return walleterrors.New(walleterrors.ErrCodeUserRejected,
		"origin "+origin+" lacks "+string(capability)+" permission").
		WithContext("method", method)
}

// PermittedAccounts returns the canonical account list exposed to an origin
// on one chain. A grant carrying the Accounts capability without accounts is
// corrupted storage and reads as not connected.
func (s *Store) PermittedAccounts(origin string, chainRef types.ChainRef) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, err := s.grantsFor(origin)
	if err != nil {
		s.logger.Warn().Err(err).Str("origin", origin).Msg("failed to load grants")
		return nil
	}
	for _, g := range grants {
		if g.ChainRef != chainRef {
			continue
		}
		if !containsCapability(g.Capabilities, types.CapabilityAccounts) || len(g.Accounts) == 0 {
			return nil
		}
		return append([]string(nil), g.Accounts...)
	}
	return nil
}

// IsConnected reports whether an origin has a usable accounts grant on a chain.
func (s *Store) IsConnected(origin string, chainRef types.ChainRef) bool {
	return len(s.PermittedAccounts(origin, chainRef)) > 0
}

// Clear removes every grant for an origin; used on disconnect or revoke.
func (s *Store) Clear(origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.database.Client().Where("origin = ?", origin).Delete(&store.PermissionRecord{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to clear grants for %s", origin)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Str("origin", origin).Int64("removed", res.RowsAffected).Msg("grants cleared")
		s.publishLocked()
	}
	return nil
}

// GrantsFor returns a deep copy of the origin's grants.
func (s *Store) GrantsFor(origin string) []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants, err := s.grantsFor(origin)
	if err != nil {
		s.logger.Warn().Err(err).Str("origin", origin).Msg("failed to load grants")
		return nil
	}
	return cloneGrants(grants)
}

// Snapshot returns a deep copy of every grant, ordered for stable display.
func (s *Store) Snapshot() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants, err := s.allGrants()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load grant snapshot")
		return nil
	}
	return grants
}

func (s *Store) canonicalize(namespace string, accounts []string) ([]string, error) {
	canon := s.canonicalizers[namespace]
	seen := make(map[string]bool, len(accounts))
	out := make([]string, 0, len(accounts))
	for _, addr := range accounts {
		if addr == "" {
			return nil, walleterrors.NewValidationError("empty account address")
		}
		normalized := addr
		if canon != nil {
			var err error
			normalized, err = canon(addr)
			if err != nil {
				return nil, walleterrors.NewValidationError("invalid account address " + addr)
			}
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out, nil
}

// loadRecord fetches (or prepares) the record for one (origin, ns, chain).
func (s *Store) loadRecord(origin, namespace string, chainRef types.ChainRef) (*store.PermissionRecord, []types.Capability, []string, error) {
	var record store.PermissionRecord
	err := s.database.Client().
		Where("origin = ? AND namespace = ? AND chain_ref = ?", origin, namespace, chainRef.String()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, errors.Wrap(err, "failed to query permission record")
	}

	caps, accounts := decodeRecord(&record)
	return &record, caps, accounts, nil
}

func (s *Store) saveRecord(existing *store.PermissionRecord, origin, namespace string, chainRef types.ChainRef, caps []types.Capability, accounts []string) error {
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return errors.Wrap(err, "failed to encode capabilities")
	}
	accountsJSON, err := json.Marshal(accounts)
	if err != nil {
		return errors.Wrap(err, "failed to encode accounts")
	}

	if existing == nil {
		record := store.PermissionRecord{
			Origin:       origin,
			Namespace:    namespace,
			ChainRef:     chainRef.String(),
			Capabilities: capsJSON,
			Accounts:     accountsJSON,
		}
		if err := s.database.Client().Create(&record).Error; err != nil {
			return errors.Wrap(err, "failed to create permission record")
		}
		return nil
	}

	existing.Capabilities = capsJSON
	existing.Accounts = accountsJSON
	if err := s.database.Client().Save(existing).Error; err != nil {
		return errors.Wrap(err, "failed to update permission record")
	}
	return nil
}

func (s *Store) grantsFor(origin string) ([]Grant, error) {
	var records []store.PermissionRecord
	if err := s.database.Client().Where("origin = ?", origin).Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query permission records")
	}
	return recordsToGrants(records), nil
}

func (s *Store) allGrants() ([]Grant, error) {
	var records []store.PermissionRecord
	if err := s.database.Client().Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query permission records")
	}
	grants := recordsToGrants(records)
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Origin != grants[j].Origin {
			return grants[i].Origin < grants[j].Origin
		}
		return grants[i].ChainRef < grants[j].ChainRef
	})
	return grants, nil
}

// publishLocked publishes the full grant snapshot; call with s.mu held.
func (s *Store) publishLocked() {
	grants, err := s.allGrants()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build grant snapshot for publish")
		return
	}
	s.topic.Publish(grants)
}

func decodeRecord(record *store.PermissionRecord) ([]types.Capability, []string) {
	var caps []types.Capability
	var accounts []string
	if len(record.Capabilities) > 0 {
		_ = json.Unmarshal(record.Capabilities, &caps)
	}
	if len(record.Accounts) > 0 {
		_ = json.Unmarshal(record.Accounts, &accounts)
	}
	return caps, accounts
}

func recordsToGrants(records []store.PermissionRecord) []Grant {
	grants := make([]Grant, 0, len(records))
	for i := range records {
		caps, accounts := decodeRecord(&records[i])
		grants = append(grants, Grant{
			Origin:       records[i].Origin,
			Namespace:    records[i].Namespace,
			ChainRef:     types.ChainRef(records[i].ChainRef),
			Capabilities: caps,
			Accounts:     accounts,
			UpdatedAt:    records[i].UpdatedAt,
		})
	}
	return grants
}

func containsCapability(caps []types.Capability, capability types.Capability) bool {
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
