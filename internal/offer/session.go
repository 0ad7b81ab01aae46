// Package offer holds the client-side view of one account's encrypted
// ShieldTrade offer: the cached ciphertext handles, the decrypted values,
// and the refresh, decrypt and submit pipelines that keep them current.
package offer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shieldtrade/internal/authz"
	"shieldtrade/internal/binding"
	"shieldtrade/internal/chain"
	"shieldtrade/internal/fhe"
	"shieldtrade/internal/wallet"
)

// Event kinds passed to EventSink.
const (
	EventOfferCreate = "offer_create"
	EventDecrypt     = "decrypt"
	EventInfo        = "info"
	EventError       = "error"
)

const DefaultRepaintDelay = 100 * time.Millisecond

// EventSink receives user-visible notifications. Implementations must not
// call back into the Session.
type EventSink interface {
	OnEvent(kind, title, details string)
}

// Account is a connected wallet: it signs typed data and reads and
// transacts as its own address.
type Account interface {
	wallet.Signer
	chain.ReadWriter
}

type account struct {
	wallet.Signer
	chain.ReadWriter
}

// NewAccount pairs a signer with the connection that sends as it.
func NewAccount(signer wallet.Signer, conn chain.ReadWriter) Account {
	return account{Signer: signer, ReadWriter: conn}
}

// HandleSet is the ciphertext handle pair returned by getMyOffer.
type HandleSet struct {
	Pay  common.Hash `json:"pay"`
	Recv common.Hash `json:"recv"`
}

// Empty reports whether no offer has been set yet.
func (h HandleSet) Empty() bool {
	return h.Pay == (common.Hash{}) || h.Recv == (common.Hash{})
}

// ClearOffer is a decrypted offer and the handles it was decrypted from.
type ClearOffer struct {
	Pay     uint32    `json:"pay"`
	Recv    uint32    `json:"recv"`
	Handles HandleSet `json:"handles"`
}

// State is a point-in-time copy of everything a UI renders.
type State struct {
	ContractAddress *common.Address `json:"contractAddress,omitempty"`
	ChainID         *uint64         `json:"chainId,omitempty"`
	ChainName       string          `json:"chainName,omitempty"`
	IsDeployed      bool            `json:"isDeployed"`
	Handles         *HandleSet      `json:"handles,omitempty"`
	Clear           *ClearOffer     `json:"clear,omitempty"`
	IsDecrypted     bool            `json:"isDecrypted"`
	IsRefreshing    bool            `json:"isRefreshing"`
	IsDecrypting    bool            `json:"isDecrypting"`
	IsSubmitting    bool            `json:"isSubmitting"`
	CanGetOffer     bool            `json:"canGetOffer"`
	CanDecrypt      bool            `json:"canDecrypt"`
	CanSetOffer     bool            `json:"canSetOffer"`
	Message         string          `json:"message"`
}

type Options struct {
	Resolver       *binding.Resolver
	Authorizations *authz.Cache
	FHE            fhe.Instance
	Sink           EventSink
	Logger         *zap.Logger
	Metrics        *Metrics
	// RepaintDelay is waited before encrypting a submission. Zero means
	// DefaultRepaintDelay; negative disables the wait.
	RepaintDelay time.Duration
}

type Session struct {
	resolver     *binding.Resolver
	authz        *authz.Cache
	sink         EventSink
	logger       *zap.Logger
	metrics      *Metrics
	repaintDelay time.Duration

	mu           sync.Mutex
	binding      binding.Binding
	reader       chain.OfferReader
	account      Account
	instance     fhe.Instance
	handles      *HandleSet
	clear        *ClearOffer
	message      string
	refresh      pipeline
	decrypt      pipeline
	submit       pipeline
	refreshAgain bool
}

func NewSession(opts Options) (*Session, error) {
	if opts.Resolver == nil {
		return nil, errors.New("offer: resolver is required")
	}
	if opts.Authorizations == nil {
		return nil, errors.New("offer: authorization cache is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := opts.RepaintDelay
	if delay == 0 {
		delay = DefaultRepaintDelay
	}

	return &Session{
		resolver:     opts.Resolver,
		authz:        opts.Authorizations,
		sink:         opts.Sink,
		logger:       logger,
		metrics:      opts.Metrics,
		repaintDelay: delay,
		instance:     opts.FHE,
		binding:      opts.Resolver.Resolve(nil),
	}, nil
}

// Connect switches the session to chainID using reader for queries when no
// account is attached, then refreshes the cached handles. Handles and the
// decrypted offer are dropped whenever the binding changes.
func (s *Session) Connect(ctx context.Context, chainID *uint64, reader chain.OfferReader) error {
	b := s.resolver.Resolve(chainID)

	s.mu.Lock()
	if !b.Same(s.binding) {
		s.handles = nil
		s.clear = nil
	}
	s.binding = b
	s.reader = reader
	if !b.Deployed() {
		s.handles = nil
		s.message = b.NotDeployedMessage()
	}
	s.mu.Unlock()

	if !b.Deployed() {
		s.emit(EventInfo, b.NotDeployedMessage(), "")
		return ErrNotDeployed
	}
	return s.runRefresh(ctx, true)
}

// SetAccount attaches or, with nil, detaches the wallet account. Operations
// started under a different account discard their results, and a decrypted
// offer is dropped unless the address stays the same.
func (s *Session) SetAccount(acct Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil || acct == nil || s.account.Address() != acct.Address() {
		s.clear = nil
	}
	s.account = acct
}

// SetFHE attaches or detaches the FHEVM instance.
func (s *Session) SetFHE(inst fhe.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = inst
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ChainName:    s.binding.ChainName,
		IsDeployed:   s.binding.Deployed(),
		IsRefreshing: s.refresh.running(),
		IsDecrypting: s.decrypt.running(),
		IsSubmitting: s.submit.running(),
		CanGetOffer:  s.canGetOfferLocked(),
		CanDecrypt:   s.canDecryptLocked(),
		CanSetOffer:  s.canSetOfferLocked(),
		Message:      s.message,
	}
	if s.binding.Address != nil {
		addr := *s.binding.Address
		st.ContractAddress = &addr
	}
	if s.binding.ChainID != nil {
		id := *s.binding.ChainID
		st.ChainID = &id
	}
	if s.handles != nil {
		h := *s.handles
		st.Handles = &h
	}
	if s.decryptedLocked() {
		c := *s.clear
		st.Clear = &c
		st.IsDecrypted = true
	}
	return st
}

// Phases reports the state machine phase of each pipeline.
func (s *Session) Phases() (refresh, decrypt, submit Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh.phase, s.decrypt.phase, s.submit.phase
}

// queryConnLocked prefers the account so getMyOffer runs as its address.
func (s *Session) queryConnLocked() chain.OfferReader {
	if s.account != nil {
		return s.account
	}
	if s.reader != nil {
		return s.reader
	}
	return nil
}

func (s *Session) decryptedLocked() bool {
	return s.clear != nil && s.handles != nil && s.clear.Handles == *s.handles
}

func (s *Session) canGetOfferLocked() bool {
	return s.binding.Deployed() && s.queryConnLocked() != nil && !s.refresh.running()
}

func (s *Session) canDecryptLocked() bool {
	return s.binding.Deployed() &&
		s.instance != nil &&
		s.account != nil &&
		!s.refresh.running() &&
		!s.decrypt.running() &&
		s.handles != nil && !s.handles.Empty() &&
		!s.decryptedLocked()
}

func (s *Session) canSetOfferLocked() bool {
	return s.binding.Deployed() &&
		s.instance != nil &&
		s.account != nil &&
		!s.refresh.running() &&
		!s.submit.running()
}

func (s *Session) setInFlight(op string, running bool) {
	s.metrics.setInFlight(op, running)
}

// report sets the status message and forwards it to the sink. The caller
// must not hold s.mu.
func (s *Session) report(kind, message, details string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
	s.emit(kind, message, details)
}

func (s *Session) emit(kind, title, details string) {
	if s.sink == nil || kind == "" {
		return
	}
	s.sink.OnEvent(kind, title, details)
}

func (s *Session) discarded(op string, started contextSnapshot) {
	fields := []zap.Field{zap.String("operation", op)}
	if started.contract != nil {
		fields = append(fields, zap.String("contract", started.contract.Hex()))
	}
	if started.chainID != nil {
		fields = append(fields, zap.Uint64("chain_id", *started.chainID))
	}
	s.logger.Info("discarding stale result", fields...)
}
