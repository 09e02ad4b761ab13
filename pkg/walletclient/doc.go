// Package walletclient provides a client for an operator wallet API.
//
// Casinos that keep the balance of record on their own platform expose
// a wallet service; the engine talks to it through this client instead
// of the local database. The client satisfies the same store interface
// as the built-in Postgres store, so the settlement coordinator cannot
// tell the difference.
//
// # Authentication
//
// All API requests are authenticated using:
//   - API Key: Sent in the x-api-key header
//   - HMAC Signature: SHA256 hash of the request body, sent in x-api-hmac header
//
// # Basic Usage
//
//	client := walletclient.New(&walletclient.Config{
//	    BaseURL:   "https://wallet.operator.example",
//	    APIKey:    "your-api-key",
//	    APISecret: "your-api-secret",
//	})
//
//	coord, err := settle.New(client, gen, auditSvc, log, configs)
//
// # Error Handling
//
// Wallet errors carry a Code field and are translated to the store
// package's sentinel errors, so callers can use errors.Is exactly as
// they would with the local store.
package walletclient
