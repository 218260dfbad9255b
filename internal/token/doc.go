// Package token mints the short-lived JWT a device presents as its MQTT
// password.
//
// A Minter validates its inputs, hands the key material to a Signer and
// returns a Token carrying the issue and expiry times. Tokens are minted
// fresh for every connection attempt and are never cached or persisted.
//
// JWTSigner is the production Signer. It accepts a PEM encoded P-256 EC key
// (ES256) or an RSA key (RS256) and emits the claims the broker expects:
//
//	{"iat": <now>, "exp": <now+validity>, "aud": "<project id>"}
package token
