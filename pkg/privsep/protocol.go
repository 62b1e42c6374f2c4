package privsep

// Command tokens, sent as the first String atom of every request.
const (
	CmdLoadKey = "load_key"
	CmdPrivEnc = "priv_enc"
	CmdPrivDec = "priv_dec"
	CmdSign    = "sign"
)

// HandleInvalid is the handle value load_key reports on failure.
const HandleInvalid = ^uint64(0)

// LoadKeyRequest carries the atoms of a load_key command.
type LoadKeyRequest struct {
	Path string
}

// Encode appends the command token followed by this request's atoms to buf.
func (r LoadKeyRequest) Encode(buf *Buffer) {
	buf.PushString(CmdLoadKey)
	buf.PushString(r.Path)
}

// DecodeLoadKeyRequest reads a LoadKeyRequest's atoms from buf. The command
// token itself must already have been consumed by the caller.
func DecodeLoadKeyRequest(buf *Buffer) (LoadKeyRequest, error) {
	path, err := buf.ShiftString()
	if err != nil {
		return LoadKeyRequest{}, err
	}
	return LoadKeyRequest{Path: path}, nil
}

// LoadKeyResponse carries the atoms of a load_key response.
type LoadKeyResponse struct {
	OK     bool
	Handle uint64
	EHex   string
	NHex   string
	Err    string
}

// Encode appends this response's atoms to buf.
func (resp LoadKeyResponse) Encode(buf *Buffer) {
	buf.PushNumber(boolToNumber(resp.OK))
	buf.PushNumber(resp.Handle)
	buf.PushString(resp.EHex)
	buf.PushString(resp.NHex)
	buf.PushString(resp.Err)
}

// DecodeLoadKeyResponse reads a LoadKeyResponse's atoms from buf.
func DecodeLoadKeyResponse(buf *Buffer) (LoadKeyResponse, error) {
	var resp LoadKeyResponse
	ok, err := buf.ShiftNumber()
	if err != nil {
		return resp, err
	}
	handle, err := buf.ShiftNumber()
	if err != nil {
		return resp, err
	}
	eHex, err := buf.ShiftString()
	if err != nil {
		return resp, err
	}
	nHex, err := buf.ShiftString()
	if err != nil {
		return resp, err
	}
	errStr, err := buf.ShiftString()
	if err != nil {
		return resp, err
	}
	resp.OK = ok != 0
	resp.Handle = handle
	resp.EHex = eHex
	resp.NHex = nHex
	resp.Err = errStr
	return resp, nil
}

// CryptRequest carries the atoms shared by priv_enc and priv_dec: the
// command's own token differs, everything after it does not.
type CryptRequest struct {
	From    []byte
	Handle  uint64
	Padding uint64
}

// Encode appends cmd as the command token followed by this request's atoms
// to buf.
func (r CryptRequest) Encode(buf *Buffer, cmd string) {
	buf.PushString(cmd)
	buf.PushLengthPrefixedBytes(r.From)
	buf.PushNumber(r.Handle)
	buf.PushNumber(r.Padding)
}

// DecodeCryptRequest reads a CryptRequest's atoms from buf. The command token
// itself must already have been consumed by the caller.
func DecodeCryptRequest(buf *Buffer) (CryptRequest, error) {
	var r CryptRequest
	from, err := buf.ShiftLengthPrefixedBytes()
	if err != nil {
		return r, err
	}
	handle, err := buf.ShiftNumber()
	if err != nil {
		return r, err
	}
	padding, err := buf.ShiftNumber()
	if err != nil {
		return r, err
	}
	r.From = from
	r.Handle = handle
	r.Padding = padding
	return r, nil
}

// CryptResponse carries the atoms shared by priv_enc and priv_dec responses.
type CryptResponse struct {
	Ret int64
	To  []byte
}

// Encode appends this response's atoms to buf.
func (resp CryptResponse) Encode(buf *Buffer) {
	buf.PushNumber(uint64(resp.Ret))
	buf.PushLengthPrefixedBytes(resp.To)
}

// DecodeCryptResponse reads a CryptResponse's atoms from buf.
func DecodeCryptResponse(buf *Buffer) (CryptResponse, error) {
	var resp CryptResponse
	ret, err := buf.ShiftNumber()
	if err != nil {
		return resp, err
	}
	to, err := buf.ShiftLengthPrefixedBytes()
	if err != nil {
		return resp, err
	}
	resp.Ret = int64(ret)
	resp.To = to
	return resp, nil
}

// SignRequest carries the atoms of a sign command.
type SignRequest struct {
	Type   uint64
	Msg    []byte
	Handle uint64
}

// Encode appends the command token followed by this request's atoms to buf.
func (r SignRequest) Encode(buf *Buffer) {
	buf.PushString(CmdSign)
	buf.PushNumber(r.Type)
	buf.PushLengthPrefixedBytes(r.Msg)
	buf.PushNumber(r.Handle)
}

// DecodeSignRequest reads a SignRequest's atoms from buf. The command token
// itself must already have been consumed by the caller.
func DecodeSignRequest(buf *Buffer) (SignRequest, error) {
	var r SignRequest
	typ, err := buf.ShiftNumber()
	if err != nil {
		return r, err
	}
	msg, err := buf.ShiftLengthPrefixedBytes()
	if err != nil {
		return r, err
	}
	handle, err := buf.ShiftNumber()
	if err != nil {
		return r, err
	}
	r.Type = typ
	r.Msg = msg
	r.Handle = handle
	return r, nil
}

// SignResponse carries the atoms of a sign response.
type SignResponse struct {
	Ret int64
	Sig []byte
}

// Encode appends this response's atoms to buf.
func (resp SignResponse) Encode(buf *Buffer) {
	buf.PushNumber(uint64(resp.Ret))
	buf.PushLengthPrefixedBytes(resp.Sig)
}

// DecodeSignResponse reads a SignResponse's atoms from buf.
func DecodeSignResponse(buf *Buffer) (SignResponse, error) {
	var resp SignResponse
	ret, err := buf.ShiftNumber()
	if err != nil {
		return resp, err
	}
	sig, err := buf.ShiftLengthPrefixedBytes()
	if err != nil {
		return resp, err
	}
	resp.Ret = int64(ret)
	resp.Sig = sig
	return resp, nil
}

func boolToNumber(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
