package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/bitfsorg/librevault-go/amount"
	"github.com/bitfsorg/librevault-go/config"
	"github.com/bitfsorg/librevault-go/descriptor"
	"github.com/bitfsorg/librevault-go/policy"
	"github.com/bitfsorg/librevault-go/psbtstore"
	"github.com/bitfsorg/librevault-go/txgraph"
)

var (
	errNotParticipant = errors.New("key does not sign any input")
	errWrongTx        = errors.New("psbt is for another transaction")
	errBadOutput      = errors.New("output must be <address>=<sats>")
	errBadKey         = errors.New("key must be WIF or 32-byte hex")
)

// env is the state shared by every command.
type env struct {
	cfg    config.Config
	params *chaincfg.Params
	store  psbtstore.Store
	log    zerolog.Logger
	out    io.Writer

	set *descriptor.Set // built on first use
}

func newEnv(cfg config.Config, store psbtstore.Store, log zerolog.Logger, out io.Writer) (*env, error) {
	params, err := cfg.ChainParams()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, params: params, store: store, log: log, out: out}, nil
}

func (e *env) descriptors() (*descriptor.Set, error) {
	if e.set == nil {
		set, err := e.cfg.Descriptors()
		if err != nil {
			return nil, err
		}
		e.set = set
	}
	return e.set, nil
}

// save stores tx under label, keeping the existing label when label is
// empty.
func (e *env) save(tx *txgraph.Transaction, label string) error {
	if label == "" {
		if prev, err := e.store.Get(tx.Txid()); err == nil {
			label = prev.Label
		}
	}
	rec, err := psbtstore.NewRecord(tx, label)
	if err != nil {
		return err
	}
	if err := e.store.Put(rec); err != nil {
		return err
	}
	e.log.Debug().
		Str("txid", rec.Txid.String()).
		Str("role", rec.Role.String()).
		Str("state", rec.State.String()).
		Str("label", rec.Label).
		Msg("stored")
	return nil
}

func (e *env) load(txid chainhash.Hash) (*txgraph.Transaction, error) {
	rec, err := e.store.Get(txid)
	if err != nil {
		return nil, err
	}
	set, err := e.descriptors()
	if err != nil {
		return nil, err
	}
	return rec.Transaction(set.All()...)
}

// buildChain wraps the raw deposit transaction and stores it together with
// the Unvault, Cancel, Emergency and UnvaultEmergency of output vout.
func (e *env) buildChain(rawDeposit []byte, vout uint32, label string) (*txgraph.Chain, error) {
	set, err := e.descriptors()
	if err != nil {
		return nil, err
	}

	msg := wire.NewMsgTx(txgraph.TxVersion)
	if err := msg.Deserialize(bytes.NewReader(rawDeposit)); err != nil {
		return nil, fmt.Errorf("deposit transaction: %w", err)
	}
	deposit, err := txgraph.NewDepositTransaction(msg)
	if err != nil {
		return nil, err
	}
	in, err := txgraph.DepositInput(deposit, vout, set.Deposit)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = in.Outpoint.String()
	}

	chain, err := txgraph.BuildChain(&txgraph.ChainParams{
		Deposit:          in,
		Descriptors:      set,
		UnvaultFeerate:   amount.Amount(e.cfg.UnvaultFeerate),
		CancelFeerate:    amount.Amount(e.cfg.CancelFeerate),
		EmergencyFeerate: amount.Amount(e.cfg.EmergencyFeerate),
	})
	if err != nil {
		return nil, err
	}

	for _, tx := range append([]*txgraph.Transaction{deposit}, chain.All()...) {
		if err := e.save(tx, label); err != nil {
			return nil, err
		}
	}
	e.log.Info().
		Str("deposit", in.Outpoint.String()).
		Str("value", in.Value.String()).
		Str("unvault", chain.Unvault.Txid().String()).
		Msg("built transaction chain")
	return chain, nil
}

// buildSpend stores a Spend consuming the unvault output of every stored
// Unvault in unvaults.
func (e *env) buildSpend(unvaults []chainhash.Hash, outputs []*wire.TxOut, change amount.Amount, label string) (*txgraph.Transaction, error) {
	set, err := e.descriptors()
	if err != nil {
		return nil, err
	}

	inputs := make([]*txgraph.Input, 0, len(unvaults))
	for _, txid := range unvaults {
		unvault, err := e.load(txid)
		if err != nil {
			return nil, err
		}
		in, err := unvault.UnvaultOutput()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", txid, err)
		}
		inputs = append(inputs, in)
	}

	spend, err := txgraph.BuildSpend(&txgraph.SpendParams{
		Inputs:           inputs,
		Outputs:          outputs,
		Change:           change,
		ChangeDescriptor: set.Deposit,
		FeeBump:          set.FeeBump,
	})
	if err != nil {
		return nil, err
	}
	if err := e.save(spend, label); err != nil {
		return nil, err
	}

	fees, _ := spend.Fees()
	e.log.Info().
		Str("txid", spend.Txid().String()).
		Int("inputs", spend.NumInputs()).
		Str("fees", fees.String()).
		Msg("built spend")
	return spend, nil
}

// sign adds priv's signature to every input of txid it can sign and
// returns how many inputs it signed.
func (e *env) sign(txid chainhash.Hash, priv *btcec.PrivateKey) (int, error) {
	tx, err := e.load(txid)
	if err != nil {
		return 0, err
	}

	pub := priv.PubKey()
	signed := 0
	for i := 0; i < tx.NumInputs(); i++ {
		d, err := tx.InputDescriptor(i)
		if err != nil {
			return signed, err
		}
		if d == nil || !hasKey(d.Keys(), pub) {
			continue
		}
		digest, err := tx.SignatureHash(i)
		if err != nil {
			return signed, err
		}
		if err := tx.InsertSignature(i, pub, ecdsa.Sign(priv, digest)); err != nil {
			return signed, fmt.Errorf("input %d: %w", i, err)
		}
		signed++
	}
	if signed == 0 {
		return 0, fmt.Errorf("%w: %x", errNotParticipant, pub.SerializeCompressed())
	}
	if err := e.save(tx, ""); err != nil {
		return signed, err
	}

	e.log.Info().
		Str("txid", txid.String()).
		Str("role", tx.Role().String()).
		Int("inputs", signed).
		Msg("signed")
	return signed, nil
}

// merge copies the signatures of a PSBT produced elsewhere for the same
// transaction and returns how many were new.
func (e *env) merge(txid chainhash.Hash, psbtBase64 string) (int, error) {
	tx, err := e.load(txid)
	if err != nil {
		return 0, err
	}
	set, err := e.descriptors()
	if err != nil {
		return 0, err
	}
	other, err := txgraph.DecodeBase64(psbtBase64, set.All()...)
	if err != nil {
		return 0, err
	}
	if other.Txid() != txid {
		return 0, fmt.Errorf("%w: %s", errWrongTx, other.Txid())
	}

	added := 0
	for i := 0; i < tx.NumInputs(); i++ {
		before, err := tx.SignatureCount(i)
		if err != nil {
			return 0, err
		}
		sigs, err := other.Signatures(i)
		if err != nil {
			return 0, err
		}
		for id, raw := range sigs {
			if err := tx.InsertRawSignature(i, id[:], raw); err != nil {
				return 0, fmt.Errorf("input %d: %w", i, err)
			}
		}
		after, _ := tx.SignatureCount(i)
		added += after - before
	}
	if added > 0 {
		if err := e.save(tx, ""); err != nil {
			return 0, err
		}
	}
	e.log.Info().Str("txid", txid.String()).Int("signatures", added).Msg("merged")
	return added, nil
}

func (e *env) finalize(txid chainhash.Hash) error {
	tx, err := e.load(txid)
	if err != nil {
		return err
	}
	if err := tx.Finalize(); err != nil {
		return err
	}
	if err := e.save(tx, ""); err != nil {
		return err
	}
	e.log.Info().Str("txid", txid.String()).Str("role", tx.Role().String()).Msg("finalized")
	return nil
}

// verify runs the consensus interpreter. The resulting state, verified or
// rejected, is stored either way.
func (e *env) verify(txid chainhash.Hash) error {
	tx, err := e.load(txid)
	if err != nil {
		return err
	}
	verr := tx.Verify(nil)
	if tx.State() == txgraph.StateVerified || tx.State() == txgraph.StateRejected {
		if err := e.save(tx, ""); err != nil {
			return err
		}
	}
	if verr != nil {
		e.log.Warn().Err(verr).Str("txid", txid.String()).Msg("rejected")
		return verr
	}
	e.log.Info().Str("txid", txid.String()).Str("role", tx.Role().String()).Msg("verified")
	return nil
}

// extract runs the interpreter again and returns the serialized network
// transaction. A stored state is never trusted.
func (e *env) extract(txid chainhash.Hash) ([]byte, error) {
	tx, err := e.load(txid)
	if err != nil {
		return nil, err
	}
	if tx.Role() != txgraph.RoleDeposit {
		if err := tx.Verify(nil); err != nil {
			return nil, err
		}
	}
	msg, err := tx.Extract()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// show writes a summary of txid and its base64 PSBT.
func (e *env) show(txid chainhash.Hash) error {
	tx, err := e.load(txid)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "txid\t%s\n", tx.Txid())
	fmt.Fprintf(w, "role\t%s\n", tx.Role())
	fmt.Fprintf(w, "state\t%s\n", tx.State())
	if fees, err := tx.Fees(); err == nil {
		fmt.Fprintf(w, "fees\t%s\n", fees)
	}
	if rate, err := tx.Feerate(); err == nil {
		fmt.Fprintf(w, "feerate\t%d sat/vB\n", rate.Sats())
	}
	for i := 0; i < tx.NumInputs(); i++ {
		prev, _ := tx.PrevOutput(i)
		n, _ := tx.SignatureCount(i)
		branch, _ := tx.InputBranch(i)
		line := fmt.Sprintf("input %d\t%d sigs", i, n)
		if prev != nil {
			line += fmt.Sprintf(", %s", btcutil.Amount(prev.Value))
		}
		if branch != policy.BranchNone {
			line += fmt.Sprintf(", %s branch", branch)
		}
		fmt.Fprintln(w, line)
	}
	msg := tx.Tx()
	for i, out := range msg.TxOut {
		dest := "external"
		if d := tx.OutputDescriptor(uint32(i)); d != nil {
			dest = d.Role().String()
		}
		fmt.Fprintf(w, "output %d\t%s to %s\n", i, btcutil.Amount(out.Value), dest)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	text, err := tx.EncodeBase64()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, text)
	return err
}

// list writes one line per stored record, restricted to label when set.
func (e *env) list(label string) error {
	var (
		recs []*psbtstore.Record
		err  error
	)
	if label == "" {
		recs, err = e.store.List()
	} else {
		recs, err = e.store.ListByLabel(label)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Txid, r.Role, r.State, r.Label)
	}
	return w.Flush()
}

// ---------------------------------------------------------------------------
// Argument parsing
// ---------------------------------------------------------------------------

// parseOutput parses "<address>=<sats>".
func parseOutput(s string, params *chaincfg.Params) (*wire.TxOut, error) {
	addr, value, ok := strings.Cut(s, "=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBadOutput, s)
	}
	dest, err := btcutil.DecodeAddress(strings.TrimSpace(addr), params)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", errBadOutput, s, err)
	}
	if !dest.IsForNet(params) {
		return nil, fmt.Errorf("%w: %q is not a %s address", errBadOutput, addr, params.Name)
	}
	sats, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || sats <= 0 {
		return nil, fmt.Errorf("%w: %q: bad amount", errBadOutput, s)
	}
	script, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", errBadOutput, s, err)
	}
	return wire.NewTxOut(sats, script), nil
}

// parsePrivKey accepts a WIF string or a 32-byte hex scalar.
func parsePrivKey(s string) (*btcec.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if wif, err := btcutil.DecodeWIF(s); err == nil {
		return wif.PrivKey, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return nil, errBadKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

func parseTxid(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(strings.TrimSpace(s))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("txid %q: %w", s, err)
	}
	return *h, nil
}

func hasKey(keys []*btcec.PublicKey, pub *btcec.PublicKey) bool {
	for _, k := range keys {
		if k.IsEqual(pub) {
			return true
		}
	}
	return false
}
