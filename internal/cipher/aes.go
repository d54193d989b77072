// Package cipher implements the passphrase-based AES scheme used by Kahla
// conversations. The format is the one produced by CryptoJS.AES.encrypt with
// a string key, equivalently `openssl enc -aes-256-cbc -md md5 -base64`:
//
//	base64("Salted__" || salt[8] || AES-256-CBC(PKCS#7(utf8(plaintext))))
//
// with key and IV derived from the passphrase and salt by EVP_BytesToKey
// (MD5, one round).
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	keyLen  = 32
	saltLen = 8
)

var saltMagic = []byte("Salted__")

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidPadding    = errors.New("invalid padding")
	ErrEmptyKey          = errors.New("empty key")
)

// Encrypt seals plaintext with a fresh random salt.
func Encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	return encryptWithSalt(plaintext, passphrase, salt)
}

func encryptWithSalt(plaintext, passphrase string, salt []byte) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyKey
	}

	key, iv := bytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new aes cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	sealed := make([]byte, len(padded))
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, padded)

	out := make([]byte, 0, len(saltMagic)+saltLen+len(sealed))
	out = append(out, saltMagic...)
	out = append(out, salt...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a payload produced by Encrypt or by a CryptoJS peer.
func Decrypt(ciphertext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyKey
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < len(saltMagic)+saltLen+aes.BlockSize || !bytes.Equal(raw[:len(saltMagic)], saltMagic) {
		return "", fmt.Errorf("%w: missing salt header", ErrInvalidCiphertext)
	}

	salt := raw[len(saltMagic) : len(saltMagic)+saltLen]
	body := raw[len(saltMagic)+saltLen:]
	if len(body)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: body is not a multiple of the block size", ErrInvalidCiphertext)
	}

	key, iv := bytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new aes cipher: %w", err)
	}

	plain := make([]byte, len(body))
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// bytesToKey is OpenSSL's EVP_BytesToKey with MD5 and a single iteration.
func bytesToKey(pass, salt []byte) (key, iv []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keyLen+aes.BlockSize {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+aes.BlockSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
