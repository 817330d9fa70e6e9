package config

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Production configuration signing keys, uncompressed points in hex.
// A configuration blob is accepted when any of them verifies it.
var signatureKeys = []string{
	"04c1e4063140c01a19d1026b5d6e15ad7c6e9f461e75e2e1fd7d339c1d52c15e62b3df00cc43dd33629f6f4e7a6055f61a9d03520f464e8444b56263cb7c31c2fa",
	"040fadad9b1dfdcc6ad9afa7766917a8f61af8c8fbf956c01224f50b422af9e78ed6aad6d023bf87a35801438c26e7a5f25a0b32e0c5078ab439b0d700462b16d0",
	"04a559c9985a78418ef2dfcf6298e4ba2d7108d4a925c7605fa2efb81774dc7cd3669f11991816eb3689a930825249b9d9f89c58995d06e3ec34d06f62eb1de753",
}

// SignatureKeys returns the pinned production key set.
func SignatureKeys() []*secp256k1.PublicKey {
	keys := make([]*secp256k1.PublicKey, 0, len(signatureKeys))
	for _, k := range signatureKeys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			panic("config: bad signature key constant: " + err.Error())
		}
		key, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			panic("config: bad signature key constant: " + err.Error())
		}
		keys = append(keys, key)
	}
	return keys
}
