package viewer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopClient struct{}

func (nopClient) Send([]byte)    {}
func (nopClient) IsClosed() bool { return false }

func testCell(t *testing.T) *world.Cell {
	t.Helper()
	opts := world.DefaultOptions()
	opts.DefaultViewRadius = 10
	c := world.NewCell(4, opts, nil, zap.NewNop())
	c.RegisterType(world.EntityType{UType: 1, Name: "Avatar", Volatile: world.DefaultVolatile})
	c.CreateSpace(1)
	c.CreateSpace(2)
	a, err := c.CreateEntity(1, "Avatar", 1, coord.Vector3{X: 1, Z: 2}, world.Direction{})
	require.NoError(t, err)
	_, err = c.CreateEntity(2, "Avatar", 1, coord.Vector3{X: 3}, world.Direction{})
	require.NoError(t, err)
	_, err = c.CreateEntity(3, "Avatar", 2, coord.Vector3{}, world.Direction{})
	require.NoError(t, err)
	a.AttachWitness(nopClient{})
	c.UpdateWitnesses()
	return c
}

func TestCapture(t *testing.T) {
	snap := Capture(testCell(t))
	assert.Equal(t, uint64(4), snap.Cell)
	require.Len(t, snap.Spaces, 2)
	sp := snap.Space(1)
	require.NotNil(t, sp)
	require.Len(t, sp.Entities, 2)

	e, space := snap.Entity(1)
	require.NotNil(t, e)
	assert.Equal(t, uint32(1), space)
	assert.Equal(t, float32(2), e.Z)
	assert.Equal(t, 1, e.Viewing)
	assert.Equal(t, float32(10), e.Radius)

	other, _ := snap.Entity(2)
	assert.Equal(t, 1, other.Witnessed)
	assert.Nil(t, snap.Space(9))
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHTTPRoutes(t *testing.T) {
	s := NewServer("127.0.0.1:0", zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/spaces", nil))

	s.Publish(Capture(testCell(t)))

	var spaces []spaceSummary
	require.Equal(t, http.StatusOK, get(t, srv, "/spaces", &spaces))
	assert.Equal(t, []spaceSummary{{ID: 1, Entities: 2}, {ID: 2, Entities: 1}}, spaces)

	var sp SpaceSnapshot
	require.Equal(t, http.StatusOK, get(t, srv, "/spaces/2", &sp))
	require.Len(t, sp.Entities, 1)
	assert.Equal(t, int32(3), sp.Entities[0].ID)

	var ent struct {
		Space uint32 `json:"space"`
		ID    int32  `json:"id"`
	}
	require.Equal(t, http.StatusOK, get(t, srv, "/entities/2", &ent))
	assert.Equal(t, uint32(1), ent.Space)
	assert.Equal(t, int32(2), ent.ID)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/spaces/7", nil))
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/entities/99", nil))
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/spaces/abc", nil))
}

func TestStream(t *testing.T) {
	s := NewServer("127.0.0.1:0", zap.NewNop())
	s.poll = 10 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := testCell(t)
	s.Publish(Capture(c))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/spaces/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first streamFrame
	require.NoError(t, conn.ReadJSON(&first))
	require.NotNil(t, first.Space)
	assert.Len(t, first.Space.Entities, 2)

	c.AdvanceTick()
	c.EntityByID(2).SetPosition(coord.Vector3{X: 5})
	s.Publish(Capture(c))

	var second streamFrame
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, first.Tick+1, second.Tick)
	e := second.Space.Entities[1]
	assert.Equal(t, float32(5), e.X)
}
