package security

import (
	"crypto/subtle"

	"github.com/aq2208/course-orders/configs"
)

// Permissions checked by the HTTP layer.
const (
	PermOrdersRead    = "orders.read"
	PermOrdersWrite   = "orders.write"
	PermPaymentsWrite = "payments.write"
	PermRefundsWrite  = "refunds.write"
	PermOrdersAdmin   = "orders.admin"
)

type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"orders.read","orders.write"}
	Enabled bool
}

// Clients is the registry of API clients allowed to request tokens.
type Clients map[string]Client

func NewClients(list []configs.ClientConfig) Clients {
	out := make(Clients, len(list))
	for _, c := range list {
		if c.ID == "" {
			continue
		}
		out[c.ID] = Client{ID: c.ID, Secret: c.Secret, Perms: c.Perms, Enabled: c.Secret != ""}
	}
	return out
}

// Authenticate returns the client when the secret matches.
func (cs Clients) Authenticate(id, secret string) (Client, bool) {
	cl, ok := cs[id]
	if !ok || !cl.Enabled {
		return Client{}, false
	}
	if subtle.ConstantTimeCompare([]byte(cl.Secret), []byte(secret)) != 1 {
		return Client{}, false
	}
	return cl, true
}
