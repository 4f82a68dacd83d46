package simulator

import (
	"bytes"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/command"
	"github.com/hwlite/hwlite-go/pkg/securechannel"
	"github.com/hwlite/hwlite-go/pkg/tlv"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// mnemonicBits is the entropy used by GENERATE KEY.
const mnemonicBits = 256

func respond(data []byte, sw apdu.Status) *apdu.Response {
	return apdu.NewResponse(data, sw)
}

func fail(sw apdu.Status) *apdu.Response {
	return apdu.NewResponse(nil, sw)
}

func (t *Token) dispatch(cmd *apdu.Command) *apdu.Response {
	if cmd.Cla == command.ClaISO7816 && cmd.Ins == command.InsSelect {
		return t.handleSelect(cmd)
	}
	if !t.selected || cmd.Cla != command.ClaWallet {
		return fail(apdu.SwClaNotSupported)
	}

	if !t.initialized {
		if cmd.Ins == command.InsInit {
			return t.handleInit(cmd)
		}
		return fail(apdu.SwInsNotSupported)
	}

	switch cmd.Ins {
	case command.InsInit:
		return fail(apdu.SwInsNotSupported)
	case command.InsOpenSecureChannel:
		return t.handleOpenSecureChannel(cmd)
	}

	if t.sc != nil {
		return t.secure(cmd)
	}
	if cmd.Ins == command.InsPair {
		return t.handlePair(cmd)
	}
	return fail(apdu.SwConditionsNotSatisfied)
}

// secure unwraps a protected command, runs it and protects the answer.
// A command that fails verification is answered in clear with 6982 and
// closes the channel.
func (t *Token) secure(cmd *apdu.Command) *apdu.Response {
	plain, err := t.sc.OpenCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, cmd.Data)
	if err != nil {
		t.dropChannel()
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	inner := *cmd
	inner.Data = plain

	var resp *apdu.Response
	switch {
	case cmd.Ins == command.InsMutuallyAuthenticate:
		resp = t.handleMutuallyAuthenticate(&inner)
	case !t.authenticated:
		resp = fail(apdu.SwConditionsNotSatisfied)
	default:
		resp = t.handleSecure(&inner)
	}

	protected, err := t.sc.ProtectResponse(resp.Serialize())
	if err != nil {
		t.dropChannel()
		return fail(apdu.SwUnknown)
	}
	return respond(protected, apdu.SwOK)
}

func (t *Token) handleSecure(cmd *apdu.Command) *apdu.Response {
	switch cmd.Ins {
	case command.InsPair:
		return t.handlePair(cmd)
	case command.InsGetStatus:
		return t.handleGetStatus(cmd)
	case command.InsVerifyPIN:
		return t.handleVerifyPIN(cmd)
	case command.InsGenerateKey:
		return t.handleGenerateKey()
	case command.InsLoadKey:
		return t.handleLoadKey(cmd)
	case command.InsDeriveKey:
		return t.handleDeriveKey(cmd)
	case command.InsSign:
		return t.handleSign(cmd)
	case command.InsUnpair:
		return t.handleUnpair(cmd)
	default:
		return fail(apdu.SwInsNotSupported)
	}
}

func (t *Token) dropChannel() {
	t.sc = nil
	t.scIndex = -1
	t.authenticated = false
	t.pinVerified = false
}

func (t *Token) handleSelect(cmd *apdu.Command) *apdu.Response {
	if cmd.P1 != command.P1SelectByName || !bytes.Equal(cmd.Data, command.WalletAID) {
		return fail(apdu.SwReferencedDataNotFound)
	}
	t.reset()
	t.selected = true

	pub := t.scKey.PubKey().SerializeUncompressed()
	if !t.initialized {
		return respond(tlv.Encode(wallet.TagPublicKey, pub), apdu.SwOK)
	}
	return respond(tlv.EncodeTemplate(wallet.TagApplicationInfo,
		tlv.Encode(wallet.TagInstanceUID, t.instanceUID),
		tlv.Encode(wallet.TagPublicKey, pub),
		tlv.Encode(wallet.TagInteger, t.version[:]),
		tlv.Encode(wallet.TagInteger, []byte{byte(t.freeSlots())}),
		tlv.Encode(wallet.TagKeyUID, t.keyUID),
	), apdu.SwOK)
}

func (t *Token) handleInit(cmd *apdu.Command) *apdu.Response {
	plain, err := securechannel.OneShotDecrypt(t.scKey, cmd.Data)
	if err != nil {
		return fail(apdu.SwWrongData)
	}
	if len(plain) != wallet.PINLength+wallet.PUKLength+securechannel.PairingTokenSize {
		return fail(apdu.SwWrongData)
	}
	pin := string(plain[:wallet.PINLength])
	puk := string(plain[wallet.PINLength : wallet.PINLength+wallet.PUKLength])
	if wallet.ValidatePIN(pin) != nil {
		return fail(apdu.SwWrongData)
	}
	t.setCredentials(pin, puk, plain[wallet.PINLength+wallet.PUKLength:])
	return respond(nil, apdu.SwOK)
}

func (t *Token) handlePair(cmd *apdu.Command) *apdu.Response {
	if len(cmd.Data) != securechannel.ChallengeSize {
		return fail(apdu.SwWrongData)
	}

	switch cmd.P1 {
	case command.P1PairFirstStep:
		if t.freeSlots() == 0 {
			return fail(apdu.SwNoAvailableSlots)
		}
		challenge, err := securechannel.Random(securechannel.ChallengeSize)
		if err != nil {
			return fail(apdu.SwUnknown)
		}
		t.pairChallenge = challenge
		out := securechannel.PairingCryptogram(t.pairingToken, cmd.Data)
		return respond(append(out, challenge...), apdu.SwOK)

	case command.P1PairFinalStep:
		challenge := t.pairChallenge
		t.pairChallenge = nil
		if challenge == nil {
			return fail(apdu.SwConditionsNotSatisfied)
		}
		if !securechannel.VerifyCryptogram(t.pairingToken, challenge, cmd.Data) {
			return fail(apdu.SwSecurityConditionNotSatisfied)
		}
		slot := -1
		for i, k := range t.pairings {
			if k == nil {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fail(apdu.SwNoAvailableSlots)
		}
		salt, err := securechannel.Random(securechannel.SaltSize)
		if err != nil {
			return fail(apdu.SwUnknown)
		}
		t.pairings[slot] = securechannel.PairingKey(t.pairingToken, salt)
		return respond(append([]byte{byte(slot)}, salt...), apdu.SwOK)

	default:
		return fail(apdu.SwIncorrectP1P2)
	}
}

func (t *Token) handleOpenSecureChannel(cmd *apdu.Command) *apdu.Response {
	t.dropChannel()
	if int(cmd.P1) >= wallet.MaxPairingSlots || t.pairings[cmd.P1] == nil {
		return fail(apdu.SwIncorrectP1P2)
	}
	secret, err := securechannel.SharedSecret(t.scKey, cmd.Data)
	if err != nil {
		return fail(apdu.SwWrongData)
	}
	salt, err := securechannel.Random(securechannel.SaltSize)
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	iv, err := securechannel.Random(securechannel.BlockSize)
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	sc, err := securechannel.NewSession(secret, t.pairings[cmd.P1], salt, iv)
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	t.sc = sc
	t.scIndex = int(cmd.P1)
	return respond(append(salt, iv...), apdu.SwOK)
}

func (t *Token) handleMutuallyAuthenticate(cmd *apdu.Command) *apdu.Response {
	if t.authenticated {
		return fail(apdu.SwConditionsNotSatisfied)
	}
	if len(cmd.Data) != securechannel.ChallengeSize {
		return fail(apdu.SwWrongData)
	}
	out, err := securechannel.Random(securechannel.ChallengeSize)
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	t.authenticated = true
	return respond(out, apdu.SwOK)
}

func (t *Token) handleGetStatus(cmd *apdu.Command) *apdu.Response {
	switch wallet.StatusScope(cmd.P1) {
	case wallet.StatusApplication:
		flag := byte(0x00)
		if t.master != nil {
			flag = 0xFF
		}
		return respond(tlv.EncodeTemplate(wallet.TagApplicationStatus,
			tlv.Encode(wallet.TagInteger, []byte{byte(t.pinRetries)}),
			tlv.Encode(wallet.TagInteger, []byte{byte(t.pukRetries)}),
			tlv.Encode(wallet.TagBoolean, []byte{flag}),
		), apdu.SwOK)
	case wallet.StatusKeyPath:
		return respond(t.path.Bytes(), apdu.SwOK)
	default:
		return fail(apdu.SwIncorrectP1P2)
	}
}

func (t *Token) handleVerifyPIN(cmd *apdu.Command) *apdu.Response {
	if t.pinRetries == 0 {
		return fail(apdu.SwWrongPIN)
	}
	if string(cmd.Data) != t.pin {
		t.pinRetries--
		t.pinVerified = false
		return fail(apdu.SwWrongPIN | apdu.Status(t.pinRetries))
	}
	t.pinRetries = t.maxPIN
	t.pinVerified = true
	return respond(nil, apdu.SwOK)
}

func (t *Token) handleGenerateKey() *apdu.Response {
	if !t.pinVerified {
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	mnemonic, err := wallet.NewMnemonic(mnemonicBits)
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return fail(apdu.SwUnknown)
	}
	if err := t.loadSeed(seed); err != nil {
		return fail(apdu.SwUnknown)
	}
	return respond(append([]byte(nil), t.keyUID...), apdu.SwOK)
}

func (t *Token) handleLoadKey(cmd *apdu.Command) *apdu.Response {
	if !t.pinVerified {
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	if cmd.P1 != command.P1LoadKeySeed {
		return fail(apdu.SwIncorrectP1P2)
	}
	if len(cmd.Data) != wallet.SeedSize {
		return fail(apdu.SwWrongData)
	}
	if err := t.loadSeed(cmd.Data); err != nil {
		return fail(apdu.SwWrongData)
	}
	return respond(append([]byte(nil), t.keyUID...), apdu.SwOK)
}

func (t *Token) handleDeriveKey(cmd *apdu.Command) *apdu.Response {
	if !t.pinVerified {
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	if t.master == nil {
		return fail(apdu.SwConditionsNotSatisfied)
	}
	if cmd.P1 != command.P1DeriveAbsolute {
		return fail(apdu.SwIncorrectP1P2)
	}
	path, err := wallet.ParseDerivationPathBytes(cmd.Data)
	if err != nil {
		return fail(apdu.SwWrongData)
	}
	key, err := t.master.derive(path)
	if err != nil {
		return fail(apdu.SwWrongData)
	}
	t.key = key
	t.path = path
	return respond(nil, apdu.SwOK)
}

func (t *Token) handleSign(cmd *apdu.Command) *apdu.Response {
	if !t.pinVerified {
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	if t.key == nil {
		return fail(apdu.SwConditionsNotSatisfied)
	}
	if cmd.P1 != command.P1SignCurrentKey || cmd.P2 != command.P2SignECDSA {
		return fail(apdu.SwIncorrectP1P2)
	}
	if len(cmd.Data) != wallet.HashSize {
		return fail(apdu.SwWrongData)
	}

	der := ecdsa.Sign(t.key.key, cmd.Data).Serialize()
	return respond(tlv.EncodeTemplate(wallet.TagSignatureTemplate,
		tlv.Encode(wallet.TagPublicKey, t.key.key.PubKey().SerializeUncompressed()),
		der,
	), apdu.SwOK)
}

func (t *Token) handleUnpair(cmd *apdu.Command) *apdu.Response {
	if !t.pinVerified {
		return fail(apdu.SwSecurityConditionNotSatisfied)
	}
	if int(cmd.P1) >= wallet.MaxPairingSlots {
		return fail(apdu.SwIncorrectP1P2)
	}
	t.pairings[cmd.P1] = nil
	return respond(nil, apdu.SwOK)
}
