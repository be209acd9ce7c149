package command

import (
	"github.com/groupwarden/groupwarden/internal/admincache"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// Op identifies what a command does, independent of its name variants.
type Op string

const (
	OpBan       Op = "ban"
	OpUnban     Op = "unban"
	OpMute      Op = "mute"
	OpUnmute    Op = "unmute"
	OpWarn      Op = "warn"
	OpResetWarn Op = "resetwarn"
	OpKick      Op = "kick"
	OpSetFlood  Op = "setflood"
	OpFloodMode Op = "floodmode"
	OpNewFed    Op = "newfed"
	OpJoinFed   Op = "joinfed"
	OpLeaveFed  Op = "leavefed"
	OpFedBan    Op = "fban"
	OpFedUnban  Op = "unfban"
)

// Spec describes one registered command name.
type Spec struct {
	Op         Op
	Kind       storage.ActionKind // for ban/mute families
	Capability admincache.Capability

	NeedsTarget   bool
	WantsDuration bool // duration argument required (timed variants)
	Silent        bool // delete the issuing command message
	Revoke        bool // revoke the target's messages on ban
}

// registry is the static command table, fixed at startup. Name variants
// (sban, dban, tban) map onto the same op with different flags.
var registry = map[string]Spec{
	"ban":  {Op: OpBan, Kind: storage.KindBan, Capability: admincache.CapRestrict, NeedsTarget: true},
	"sban": {Op: OpBan, Kind: storage.KindBan, Capability: admincache.CapRestrict, NeedsTarget: true, Silent: true},
	"dban": {Op: OpBan, Kind: storage.KindBan, Capability: admincache.CapRestrict, NeedsTarget: true, Revoke: true},
	"tban": {Op: OpBan, Kind: storage.KindBan, Capability: admincache.CapRestrict, NeedsTarget: true, WantsDuration: true},

	"unban": {Op: OpUnban, Kind: storage.KindBan, Capability: admincache.CapRestrict, NeedsTarget: true},

	"mute":   {Op: OpMute, Kind: storage.KindMute, Capability: admincache.CapRestrict, NeedsTarget: true},
	"tmute":  {Op: OpMute, Kind: storage.KindMute, Capability: admincache.CapRestrict, NeedsTarget: true, WantsDuration: true},
	"unmute": {Op: OpUnmute, Kind: storage.KindMute, Capability: admincache.CapRestrict, NeedsTarget: true},

	"warn":      {Op: OpWarn, Capability: admincache.CapRestrict, NeedsTarget: true},
	"resetwarn": {Op: OpResetWarn, Capability: admincache.CapRestrict, NeedsTarget: true},
	"kick":      {Op: OpKick, Capability: admincache.CapRestrict, NeedsTarget: true},

	"setflood":  {Op: OpSetFlood, Capability: admincache.CapChangeInfo},
	"floodmode": {Op: OpFloodMode, Capability: admincache.CapChangeInfo},

	"newfed":   {Op: OpNewFed},
	"joinfed":  {Op: OpJoinFed, Capability: admincache.CapChangeInfo},
	"leavefed": {Op: OpLeaveFed, Capability: admincache.CapChangeInfo},
	"fban":     {Op: OpFedBan, NeedsTarget: true},
	"unfban":   {Op: OpFedUnban, NeedsTarget: true},
}

// Lookup resolves a command name to its spec.
func Lookup(name string) (Spec, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names returns every registered command name. Used for startup logging.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
