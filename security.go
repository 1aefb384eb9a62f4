package pdf

import (
	"github.com/aescarias/pdfnaut/internal/security"
	"github.com/aescarias/pdfnaut/internal/types"
)

// initEncrypt builds the document's security.Handler from the trailer's
// Encrypt dictionary and opportunistically authenticates it with password,
// without failing the open if that password is wrong (§6 "Apply password"
// is its own public operation; a PDF opened with the wrong or no password
// stays open, just unable to resolve encrypted strings/streams until
// ApplyPassword succeeds). It builds the Handler through the
// CryptProvider/Handler abstraction instead of computing the RC4 key
// inline.
func (r *Reader) initEncrypt(password string) error {
	encryptRef := r.trailer.Get("Encrypt")
	encryptVal := r.resolve(types.Objptr{}, encryptRef)
	encrypt, ok := encryptVal.data.(types.Dict)
	if !ok {
		return newError(KindMalformedDictionary, -1, "trailer Encrypt entry is not a dictionary")
	}

	if name, _ := encrypt.Get("Filter").(types.Name); name != "Standard" {
		return newError(KindUnsupportedEncrypt, -1, "unsupported encryption filter %q", name)
	}

	ids, ok := r.trailer.Get("ID").(types.Array)
	if !ok || len(ids) < 1 {
		return newError(KindMalformedHeader, -1, "missing ID in trailer")
	}
	id0, ok := ids[0].(types.String)
	if !ok {
		return newError(KindMalformedHeader, -1, "missing ID in trailer")
	}

	v, _ := encrypt.Get("V").(int64)
	rev, _ := encrypt.Get("R").(int64)
	o, _ := encrypt.Get("O").(types.String)
	u, _ := encrypt.Get("U").(types.String)
	p, _ := encrypt.Get("P").(int64)
	length, _ := encrypt.Get("Length").(int64)

	if rev >= 5 {
		return newError(KindUnsupportedEncrypt, -1, "revision %d (AES-256) encryption is not supported", rev)
	}

	encMeta := true
	hasEncMeta := false
	if v, ok := encrypt.Get("EncryptMetadata").(bool); ok {
		encMeta = v
		hasEncMeta = true
	}

	params := security.Params{
		V:               int(v),
		R:               int(rev),
		O:               o.Bytes,
		U:               u.Bytes,
		P:               int32(p),
		Length:          int(length),
		ID0:             id0.Bytes,
		EncryptMetadata: encMeta,
		HasEncryptMeta:  hasEncMeta,
	}

	streamMethod, stringMethod := security.MethodARC4, security.MethodARC4
	if v >= 4 {
		streamMethod = resolveCFM(encrypt, "StmF")
		stringMethod = resolveCFM(encrypt, "StrF")
	}

	provider := r.opts.CryptProvider
	if provider == nil {
		provider = security.Default{}
	}

	h := security.NewHandler(params, provider, streamMethod, stringMethod)
	r.security = h
	h.Authenticate([]byte(password)) // best-effort; wrong/empty password leaves it unauthenticated
	return nil
}

// Permission aliases internal/security.Permission so callers can name
// P-entry permission bits without reaching into an internal package.
type Permission = security.Permission

// CryptProvider aliases internal/security.CryptProvider so an Options value
// can be built entirely from the pdf package (§6 "crypt_provider").
type CryptProvider = security.CryptProvider

const (
	PermPrint         = security.PermPrint
	PermModify        = security.PermModify
	PermExtract       = security.PermExtract
	PermAnnotate      = security.PermAnnotate
	PermFillForms     = security.PermFillForms
	PermAccessibility = security.PermAccessibility
	PermAssemble      = security.PermAssemble
	PermPrintHighRes  = security.PermPrintHighRes
)

// ApplyPassword authenticates the document's security handler with
// password, trying it first as a user then an owner password (§4.4
// Algorithms 4/5/7). It returns whether authentication succeeded and, on
// success, the permission bits granted by the Encrypt dictionary's P entry
// (§6 "access-level flags"). Calling it again with a different password
// re-authenticates; a prior successful authentication is not sticky across
// a failed call.
func (r *Reader) ApplyPassword(password string) (bool, Permission) {
	if r.security == nil {
		return false, 0
	}
	if err := r.security.Authenticate([]byte(password)); err != nil {
		return false, 0
	}
	return true, security.Permission(r.security.Params.P)
}

func resolveCFM(encrypt types.Dict, key types.Name) security.Method {
	name, _ := encrypt.Get(key).(types.Name)
	if name == "" || name == "Identity" {
		return security.MethodIdentity
	}

	cf, _ := encrypt.Get("CF").(types.Dict)
	filt, _ := cf.Get(name).(types.Dict)
	cfm, _ := filt.Get("CFM").(types.Name)

	switch cfm {
	case "AESV2":
		return security.MethodAESV2
	case "V2":
		return security.MethodARC4
	case "None":
		return security.MethodIdentity
	default:
		return security.MethodARC4
	}
}
