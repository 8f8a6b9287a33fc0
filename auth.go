package openwebnet

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strconv"
)

// Authentication implements the two OPEN handshake digests named in spec
// §4.4/§6: the legacy numeric algorithm (auth method 1) and the HMAC-SHA1/256
// variant (auth method 2). Both are gateway-mandated, byte-exact formats;
// per spec §9's Open Question, the exact wire bytes could not be confirmed
// against a hardware reference in this pass, so these follow the commonly
// published BTicino/Legrand "OPEN" password-hash structure but should be
// checked against a real gateway before being trusted in production.

// legacyOpenDigest implements the OPEN numeric password algorithm: the
// gateway sends a nonce of ASCII digits; each non-zero digit selects a
// bit-shuffle operation folded into a running 32-bit accumulator seeded
// with the numeric password.
func legacyOpenDigest(password, nonce string) (string, error) {
	seed, err := strconv.ParseUint(password, 10, 32)
	if err != nil {
		return "", fmt.Errorf("openwebnet: legacy auth requires a numeric password: %w", err)
	}

	var num1, num2 uint32
	started := false
	for _, c := range nonce {
		if c == '0' {
			continue
		}
		if !started {
			num2 = uint32(seed)
			started = true
		}

		switch c {
		case '1':
			num1 = (num2 & 0xFFFFFF80) >> 7
			num2 <<= 25
		case '2':
			num1 = (num2 & 0xFFFFFFF0) >> 4
			num2 <<= 28
		case '3':
			num1 = (num2 & 0xFFFFFFF8) >> 3
			num2 <<= 29
		case '4':
			num1 = num2 << 1
			num2 >>= 31
		case '5':
			num1 = num2 << 5
			num2 >>= 27
		case '6':
			num1 = num2 << 12
			num2 >>= 20
		case '7':
			num1 = (num2 & 0xFFFF0000) >> 16
			num2 = (num2 & 0x0000FFFF) << 16
		case '8':
			num1 = (num2 & 0xFF00FF00) >> 8
			num2 = (num2 & 0x00FF00FF) << 8
		case '9':
			num1 = num2
		default:
			return "", fmt.Errorf("openwebnet: invalid nonce digit %q", c)
		}
		num2 += num1
	}

	return strconv.FormatUint(uint64(num2), 10), nil
}

// HMACVariant selects SHA1 (auth method 2 on older gateways) or SHA256 (auth
// method 2 on newer gateways that negotiate a stronger digest).
type HMACVariant int

const (
	HMACSHA1 HMACVariant = iota
	HMACSHA256
)

// hmacDigest computes HMAC(password, clientNonce||serverNonce) and returns
// the raw digest bytes; the caller renders them with digitsFromBytes before
// sending them back to the gateway to complete auth method 2.
func hmacDigest(variant HMACVariant, password string, clientNonce, serverNonce []byte) []byte {
	var mac hash.Hash
	switch variant {
	case HMACSHA256:
		mac = hmac.New(sha256.New, []byte(password))
	default:
		mac = hmac.New(sha1.New, []byte(password))
	}
	mac.Write(clientNonce)
	mac.Write(serverNonce)
	return mac.Sum(nil)
}

// digitsFromBytes renders b as an all-digit string (3 zero-padded decimal
// digits per byte), since every OpenWebNet parameter is constrained to
// `[0-9]*` (spec §4.1) and a raw HMAC digest isn't.
func digitsFromBytes(b []byte) string {
	buf := make([]byte, 0, len(b)*3)
	for _, c := range b {
		buf = append(buf, byte('0'+c/100), byte('0'+(c/10)%10), byte('0'+c%10))
	}
	return string(buf)
}
