package game

// Snapshot is the full public state pushed to clients. Timer handles and
// hidden items never leave the server.
type Snapshot struct {
	MatchID     string                `json:"matchId"`
	RoomID      string                `json:"roomId"`
	Status      Status                `json:"status"`
	Map         [][]Cell              `json:"map"`
	Players     map[string]PlayerView `json:"players"`
	Bombs       []BombView            `json:"bombs"`
	Explosions  []ExplosionView       `json:"explosions"`
	Items       []ItemView            `json:"items"`
	RemainingMs int64                 `json:"remainingMs"`
	WinnerUID   string                `json:"winnerUid,omitempty"`
}

type PlayerView struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	PhotoURL  string `json:"photoURL"`
	Color     string `json:"color"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Alive     bool   `json:"alive"`
	Lives     int    `json:"lives"`
	BombRange int    `json:"bombRange"`
	MaxBombs  int    `json:"maxBombs"`
}

type BombView struct {
	ID        string `json:"id"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	OwnerUID  string `json:"ownerUid"`
	Range     int    `json:"range"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ExplosionView struct {
	ID        string     `json:"id"`
	Cells     []Position `json:"cells"`
	ExpiresAt int64      `json:"expiresAt"`
}

type ItemView struct {
	ID   string   `json:"id"`
	Row  int      `json:"row"`
	Col  int      `json:"col"`
	Type ItemKind `json:"type"`
}

// Snapshot copies the current state. Expiry times are Unix milliseconds.
func (m *Match) Snapshot() Snapshot {
	s := Snapshot{
		MatchID:    m.id,
		RoomID:     m.roomID,
		Status:     m.status,
		Map:        m.board.clone(),
		Players:    make(map[string]PlayerView, len(m.players)),
		Bombs:      make([]BombView, 0, len(m.bombs)),
		Explosions: make([]ExplosionView, 0, len(m.explosions)),
		Items:      make([]ItemView, 0, len(m.items)),
		WinnerUID:  m.winnerUID,
	}
	for uid, p := range m.players {
		s.Players[uid] = PlayerView{
			UID:       p.UID,
			Name:      p.Name,
			PhotoURL:  p.PhotoURL,
			Color:     p.Color,
			Row:       p.Position.Row,
			Col:       p.Position.Col,
			Alive:     p.Alive,
			Lives:     p.Lives,
			BombRange: p.BombRange,
			MaxBombs:  p.MaxBombs,
		}
	}
	for _, b := range m.bombs {
		s.Bombs = append(s.Bombs, BombView{
			ID:        b.ID,
			Row:       b.Position.Row,
			Col:       b.Position.Col,
			OwnerUID:  b.OwnerUID,
			Range:     b.Range,
			ExpiresAt: b.ExpiresAt.UnixMilli(),
		})
	}
	for _, e := range m.explosions {
		s.Explosions = append(s.Explosions, ExplosionView{
			ID:        e.ID,
			Cells:     append([]Position(nil), e.Cells...),
			ExpiresAt: e.ExpiresAt.UnixMilli(),
		})
	}
	for _, it := range m.items {
		s.Items = append(s.Items, ItemView{
			ID:   it.ID,
			Row:  it.Position.Row,
			Col:  it.Position.Col,
			Type: it.Kind,
		})
	}
	if m.status == StatusPlaying && !m.endsAt.IsZero() {
		s.RemainingMs = max(m.endsAt.Sub(m.sched.Now()).Milliseconds(), 0)
	}
	return s
}
