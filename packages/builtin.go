// Package packages assembles the statically linked packages.
package packages

import (
	"log/slog"

	"github.com/joshuapare/flashdm/dm"
	"github.com/joshuapare/flashdm/packages/cipher"
	"github.com/joshuapare/flashdm/packages/keyvault"
	"github.com/joshuapare/flashdm/packages/sprinkler"
)

// BuiltIns returns cipher, key_vault and sprinkler. store backs the
// key_vault device key.
func BuiltIns(store keyvault.Store, log *slog.Logger) []dm.BuiltIn {
	return []dm.BuiltIn{
		cipher.BuiltIn(),
		keyvault.New(store, log).BuiltIn(),
		sprinkler.New(log).BuiltIn(),
	}
}
