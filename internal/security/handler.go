package security

import "fmt"

// StreamMethod and StringMethod name which crypt filter method applies to
// stream bodies and string values respectively, resolved from the Encrypt
// dictionary's StmF/StrF (V4+) or implied directly by V/R (V1/V2).
type Handler struct {
	Params       Params
	Provider     CryptProvider
	StreamMethod Method
	StringMethod Method

	fileKey []byte
}

// NewHandler builds a Handler from the parameters taken off an Encrypt
// dictionary. It does not authenticate a password; call Authenticate
// before DecryptStream/DecryptString.
func NewHandler(params Params, provider CryptProvider, streamMethod, stringMethod Method) *Handler {
	if provider == nil {
		provider = Default{}
	}
	return &Handler{Params: params, Provider: provider, StreamMethod: streamMethod, StringMethod: stringMethod}
}

// Authenticate tries password first as a user password, then as an owner
// password, per §4.4 "Authentication". On success it caches the resulting
// file key for subsequent DecryptStream/DecryptString/EncryptStream calls;
// a failed call discards any previously cached key.
func (h *Handler) Authenticate(password []byte) error {
	h.fileKey = nil

	if key, ok, err := h.Params.AuthenticateUserPassword(h.Provider, password); err != nil {
		return err
	} else if ok {
		h.fileKey = key
		return nil
	}

	if key, ok, err := h.Params.AuthenticateOwnerPassword(h.Provider, password); err != nil {
		return err
	} else if ok {
		h.fileKey = key
		return nil
	}

	return ErrBadPassword
}

// Authenticated reports whether Authenticate has succeeded.
func (h *Handler) Authenticated() bool {
	return h.fileKey != nil
}

func (h *Handler) objectCipher(objNum uint32, gen uint16, method Method) (Cipher, error) {
	if h.fileKey == nil {
		return nil, fmt.Errorf("security: handler not authenticated")
	}
	if method == MethodIdentity {
		return identityCipher{}, nil
	}
	key := PerObjectKey(h.fileKey, objNum, gen, method == MethodAESV2)
	return h.Provider.NewCipher(method, key)
}

// DecryptStream decrypts a stream body belonging to object (objNum, gen)
// using StreamMethod.
func (h *Handler) DecryptStream(objNum uint32, gen uint16, data []byte) ([]byte, error) {
	c, err := h.objectCipher(objNum, gen, h.StreamMethod)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(data)
}

// EncryptStream encrypts a stream body belonging to object (objNum, gen)
// using StreamMethod, for use by the serializer when writing an encrypted
// document.
func (h *Handler) EncryptStream(objNum uint32, gen uint16, data []byte) ([]byte, error) {
	c, err := h.objectCipher(objNum, gen, h.StreamMethod)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(data)
}

// DecryptString decrypts a string value belonging to object (objNum, gen)
// using StringMethod.
func (h *Handler) DecryptString(objNum uint32, gen uint16, data []byte) ([]byte, error) {
	c, err := h.objectCipher(objNum, gen, h.StringMethod)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(data)
}

// EncryptString encrypts a string value belonging to object (objNum, gen)
// using StringMethod.
func (h *Handler) EncryptString(objNum uint32, gen uint16, data []byte) ([]byte, error) {
	c, err := h.objectCipher(objNum, gen, h.StringMethod)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(data)
}
