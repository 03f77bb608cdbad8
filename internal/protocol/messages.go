package protocol

// Inbound payloads.

// JoinRequest asks to be matched into a game, or to resume a disconnected
// slot when the identity (and optional game id) matches an open ticket.
type JoinRequest struct {
	PlayerName     string `json:"player_name"`
	PreferredColor string `json:"preferred_color,omitempty"`
	GameID         string `json:"game_id,omitempty"`
}

// MoveRequest submits a move in algebraic square notation ("e2", "e4").
type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	GameID    string `json:"game_id"`
}

// ChatRequest sends a chat line to the opponent.
type ChatRequest struct {
	Message string `json:"message"`
	GameID  string `json:"game_id"`
}

// ResignRequest concedes the game.
type ResignRequest struct {
	GameID string `json:"game_id"`
}

// DrawOfferRequest offers a draw to the opponent.
type DrawOfferRequest struct {
	GameID string `json:"game_id"`
}

// DrawResponseRequest accepts or declines an outstanding draw offer.
type DrawResponseRequest struct {
	GameID string `json:"game_id"`
	Accept bool   `json:"accept"`
}

// Outbound payloads.

// ConnectionStatus greets a client after a successful join or resume.
type ConnectionStatus struct {
	Status  string `json:"status"`
	GameID  string `json:"game_id"`
	Color   string `json:"color"`
	Resumed bool   `json:"resumed,omitempty"`
}

// PlayerInfo describes one seat of a game.
type PlayerInfo struct {
	Name      string `json:"name"`
	Color     string `json:"color"`
	Connected bool   `json:"connected"`
}

// GameState is the authoritative snapshot broadcast to both players.
type GameState struct {
	GameID        string       `json:"game_id"`
	Status        string       `json:"status"`
	CurrentPlayer string       `json:"current_player"`
	Players       []PlayerInfo `json:"players"`
	Board         string       `json:"board"`
	MoveSeq       uint64       `json:"move_seq"`
	Winner        string       `json:"winner,omitempty"`
	EndReason     string       `json:"end_reason,omitempty"`
}

// MoveResponse answers the submitting player only.
type MoveResponse struct {
	Accepted bool       `json:"accepted"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Reason   string     `json:"reason,omitempty"`
	State    *GameState `json:"state,omitempty"`
}

// ChatBroadcast relays a chat line to both players.
type ChatBroadcast struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// DrawOffered notifies the opponent of an outstanding draw offer.
type DrawOffered struct {
	GameID string `json:"game_id"`
	From   string `json:"from"`
}

// ErrorMessage reports a per-message failure to the sender.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
