package flow

import "github.com/samaelod/pcapreplay/types"

// Direction summarizes the replayable packets of one side.
type Direction struct {
	Packets int
	Bytes   int
	First   types.Timestamp
	Last    types.Timestamp
}

func (d *Direction) add(ts types.Timestamp, n int) {
	if d.Packets == 0 {
		d.First = ts
	}
	d.Last = ts
	d.Packets++
	d.Bytes += n
}

// Tally is what a capture offers to each role under one matcher.
type Tally struct {
	Frames      int
	Undecodable int
	Ignored     int
	Client      Direction
	Server      Direction

	// FirstReply is the first server packet after the first client packet,
	// the one a server waits for before its first send. Replied is false
	// when there is none.
	FirstReply types.Timestamp
	Replied    bool
}

// Tally drains src and sorts every frame the way FindNext would for either
// role.
func (m *Matcher) Tally(src FrameSource) (Tally, error) {
	var t Tally
	for {
		frame, ok, err := src.Next()
		if err != nil {
			return t, err
		}
		if !ok {
			return t, nil
		}
		t.Frames++

		seg, err := m.parser.Parse(frame.Data, frame.LinkType)
		if err != nil {
			t.Undecodable++
			continue
		}
		_, payload, ok := m.Extract(seg)
		switch {
		case !ok:
			t.Ignored++
		case m.Matches(types.RoleClient, seg):
			t.Client.add(frame.Timestamp, len(payload))
		case m.Matches(types.RoleServer, seg):
			t.Server.add(frame.Timestamp, len(payload))
			if t.Client.Packets > 0 && !t.Replied {
				t.FirstReply, t.Replied = frame.Timestamp, true
			}
		default:
			t.Ignored++
		}
	}
}
