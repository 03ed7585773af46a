package interfaces

// Server to client message types
const (
	MsgWelcome         = "welcome"
	MsgCellReady       = "cell_ready"
	MsgCellUnload      = "cell_unload"
	MsgNPCUpdated      = "npc_updated"
	MsgNPCSpeak        = "npc_speak"
	MsgNarrativeHint   = "narrative_hint"
	MsgNarrativeUpdate = "narrative_update"
	MsgPOIDiscovered   = "poi_discovered"
	MsgPlayerJoined    = "player_joined"
	MsgPlayerMoved     = "player_moved"
	MsgPlayerLeft      = "player_left"
	MsgError           = "error"
)

// Client to server message types
const (
	MsgJoin        = "join"
	MsgPosition    = "position"
	MsgInteract    = "interact"
	MsgRequestCell = "request_cell"
	MsgTalk        = "talk"
)
