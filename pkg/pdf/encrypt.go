package pdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
)

// ErrUnsupportedEncryption is returned for security handlers other than the
// standard RC4/AES-128 ones.
var ErrUnsupportedEncryption = errors.New("unsupported encryption")

type cipherKind int

const (
	cipherIdentity cipherKind = iota
	cipherRC4
	cipherAES
)

// EncryptionHandler decrypts strings and streams of a file protected by the
// standard security handler, using the empty user password.
type EncryptionHandler struct {
	V, R            int
	Length          int // key length in bits
	O               []byte
	P               int32
	EncryptMetadata bool
	FileID          []byte

	key    []byte
	stream cipherKind
	str    cipherKind
}

// PDF standard padding string (32 bytes).
var paddingString = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// NewEncryptionHandler parses the /Encrypt dictionary and derives the file key.
func NewEncryptionHandler(r *Reader, encObj Object, fileID []byte) (*EncryptionHandler, error) {
	dict, ok := encObj.(DictionaryObject)
	if !ok {
		return nil, errors.New("encryption object is not a dictionary")
	}
	if f, _ := dict["/Filter"].(NameObject); f != "/Standard" {
		return nil, fmt.Errorf("%w: filter %v", ErrUnsupportedEncryption, dict["/Filter"])
	}

	h := &EncryptionHandler{
		V:               intOr(r.Resolve(dict["/V"]), 0),
		R:               intOr(r.Resolve(dict["/R"]), 0),
		EncryptMetadata: true,
		FileID:          fileID,
	}
	if h.V < 1 || h.V > 4 || h.R < 2 || h.R > 4 {
		return nil, fmt.Errorf("%w: V=%d R=%d", ErrUnsupportedEncryption, h.V, h.R)
	}

	o, ok := bytesOf(r.Resolve(dict["/O"]))
	if !ok || len(o) < 32 {
		return nil, errors.New("missing or invalid /O in encryption dictionary")
	}
	h.O = o[:32]

	p, ok := r.Resolve(dict["/P"]).(NumberObject)
	if !ok {
		return nil, errors.New("missing or invalid /P in encryption dictionary")
	}
	h.P = int32(int64(p))

	h.Length = intOr(r.Resolve(dict["/Length"]), 0)
	if h.Length == 0 || h.R == 2 {
		h.Length = 40
		if h.R >= 3 {
			h.Length = 128
		}
	}
	if h.Length%8 != 0 || h.Length < 40 || h.Length > 128 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedEncryption, h.Length)
	}
	if em, ok := dict["/EncryptMetadata"].(BooleanObject); ok {
		h.EncryptMetadata = bool(em)
	}

	h.stream, h.str = cipherRC4, cipherRC4
	if h.V == 4 {
		filters, _ := r.Resolve(dict["/CF"]).(DictionaryObject)
		h.stream = cryptFilter(r, filters, dict["/StmF"])
		h.str = cryptFilter(r, filters, dict["/StrF"])
		if h.stream == cipherAES || h.str == cipherAES {
			h.Length = 128
		}
	}

	h.key = h.computeEncryptionKey(nil)
	return h, nil
}

func cryptFilter(r *Reader, filters DictionaryObject, name Object) cipherKind {
	n, _ := name.(NameObject)
	if n == "" || n == "/Identity" {
		return cipherIdentity
	}
	cf, _ := r.Resolve(filters[string(n)]).(DictionaryObject)
	switch m, _ := cf["/CFM"].(NameObject); m {
	case "/AESV2":
		return cipherAES
	case "/V2":
		return cipherRC4
	default:
		return cipherIdentity
	}
}

func padPassword(password []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, password)
	copy(padded[n:], paddingString)
	return padded
}

// computeEncryptionKey is algorithm 2 of the PDF specification.
func (h *EncryptionHandler) computeEncryptionKey(password []byte) []byte {
	hash := md5.New()
	hash.Write(padPassword(password))
	hash.Write(h.O)
	hash.Write([]byte{byte(h.P), byte(h.P >> 8), byte(h.P >> 16), byte(h.P >> 24)})
	hash.Write(h.FileID)
	if h.R >= 4 && !h.EncryptMetadata {
		hash.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	digest := hash.Sum(nil)

	n := h.Length / 8
	if h.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(digest[:n])
			digest = sum[:]
		}
	}
	return digest[:n]
}

// objectKey is algorithm 1: the file key salted with the object id.
func (h *EncryptionHandler) objectKey(objNum, genNum int, aesSalt bool) []byte {
	key := make([]byte, 0, len(h.key)+9)
	key = append(key, h.key...)
	key = append(key, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(genNum), byte(genNum>>8))
	if aesSalt {
		key = append(key, 's', 'A', 'l', 'T')
	}
	sum := md5.Sum(key)
	n := min(len(h.key)+5, 16)
	return sum[:n]
}

// Decrypt decrypts stream data for the given object.
func (h *EncryptionHandler) Decrypt(data []byte, objNum, genNum int) ([]byte, error) {
	return h.decrypt(h.stream, data, objNum, genNum)
}

// DecryptString decrypts a string inside the given object.
func (h *EncryptionHandler) DecryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return h.decrypt(h.str, data, objNum, genNum)
}

func (h *EncryptionHandler) decrypt(kind cipherKind, data []byte, objNum, genNum int) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch kind {
	case cipherRC4:
		c, err := rc4.NewCipher(h.objectKey(objNum, genNum, false))
		if err != nil {
			return nil, fmt.Errorf("failed to create RC4 cipher: %w", err)
		}
		out := make([]byte, len(data))
		c.XORKeyStream(out, data)
		return out, nil
	case cipherAES:
		return decryptAES(h.objectKey(objNum, genNum, true), data)
	default:
		return data, nil
	}
}

func decryptAES(key, data []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("AES data length %d is not a whole number of blocks after the IV", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	return removePadding(out), nil
}

// removePadding strips PKCS#7 padding, leaving malformed padding in place.
func removePadding(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return data
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return data
		}
	}
	return data[:len(data)-n]
}
