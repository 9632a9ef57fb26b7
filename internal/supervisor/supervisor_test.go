// internal/supervisor/supervisor_test.go
package supervisor

import (
	"fmt"
	"net"
	"testing"
	"time"

	gmodbus "github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/tamzrod/modsim/internal/config"
	"github.com/tamzrod/modsim/internal/schema"
)

func f64(v float64) *float64 { return &v }
func addr(a int) *int        { return &a }

// schema: writable setpoint at 0 (var sp) and a derived register at 1
// following it through the globals table.
func testSet(t *testing.T) *schema.Set {
	t.Helper()

	sp := config.Register{
		Address: addr(0), Name: "setpoint", Description: "setpoint",
		Type: "uint16", Scale: 1,
		Writable: true, VariableName: "sp",
		BaseValue: f64(25),
	}
	adj := config.Register{
		Address: addr(1), Name: "adjusted", Description: "adjusted",
		Type: "uint16", Scale: 1,
		Expression: "sp * 2",
	}

	set, err := schema.Build([]config.Register{sp, adj})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return set
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func writeSetpoint(t *testing.T, port int, value uint16) {
	t.Helper()

	h := gmodbus.NewTCPClientHandler(fmt.Sprintf("127.0.0.1:%d", port))
	h.Timeout = 2 * time.Second
	h.SlaveId = 1
	if err := h.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if _, err := gmodbus.NewClient(h).WriteSingleRegister(0, value); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
}

func snapshotValue(t *testing.T, s *Supervisor, id, name string) float64 {
	t.Helper()

	rows, err := s.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, r := range rows {
		if r.Name == name {
			return r.Scaled
		}
	}
	t.Fatalf("register %q not in snapshot", name)
	return 0
}

// ---- tests ----

func TestAddListRemove(t *testing.T) {
	s := New(testSet(t), 20*time.Millisecond, zerolog.Nop())
	defer s.Shutdown()

	id1, err := s.Add("127.0.0.1", freePort(t), 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	id2, err := s.Add("127.0.0.1", freePort(t), 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if n := len(s.List()); n != 2 {
		t.Fatalf("List() = %d sims, want 2", n)
	}

	if err := s.Remove(id1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n := len(s.List()); n != 1 {
		t.Fatalf("List() = %d sims, want 1", n)
	}
	if s.List()[0].ID != id2 {
		t.Fatalf("wrong simulation removed")
	}

	if err := s.Remove(id1); err == nil {
		t.Fatalf("expected error removing unknown id")
	}
}

func TestAdd_DuplicateEndpointRejected(t *testing.T) {
	s := New(testSet(t), 20*time.Millisecond, zerolog.Nop())
	defer s.Shutdown()

	port := freePort(t)
	if _, err := s.Add("127.0.0.1", port, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add("127.0.0.1", port, 2); err == nil {
		t.Fatalf("expected error for duplicate ip:port")
	}
}

func TestAdd_ForcesFirstTickBeforeServing(t *testing.T) {
	// a long interval guarantees the loop has not ticked on its own
	s := New(testSet(t), time.Hour, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Add("127.0.0.1", freePort(t), 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := snapshotValue(t, s, id, "adjusted"); got != 50 {
		t.Fatalf("adjusted = %v, want 50 from the forced first tick", got)
	}
}

func TestGlobalsIsolatedPerSimulation(t *testing.T) {
	s := New(testSet(t), 20*time.Millisecond, zerolog.Nop())
	defer s.Shutdown()

	portA, portB := freePort(t), freePort(t)
	idA, err := s.Add("127.0.0.1", portA, 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	idB, err := s.Add("127.0.0.1", portB, 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	writeSetpoint(t, portA, 40)
	time.Sleep(100 * time.Millisecond) // a few ticks

	if got := snapshotValue(t, s, idA, "adjusted"); got != 80 {
		t.Fatalf("sim A adjusted = %v, want 80", got)
	}
	// the same variable_name on sim B must be untouched
	if got := snapshotValue(t, s, idB, "adjusted"); got != 50 {
		t.Fatalf("sim B adjusted = %v, want 50", got)
	}
	if got := snapshotValue(t, s, idB, "setpoint"); got != 25 {
		t.Fatalf("sim B setpoint = %v, want 25", got)
	}
}

func TestSnapshot_Rows(t *testing.T) {
	s := New(testSet(t), 20*time.Millisecond, zerolog.Nop())
	defer s.Shutdown()

	id, err := s.Add("127.0.0.1", freePort(t), 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	rows, err := s.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	sp := rows[0]
	if sp.Name != "setpoint" || !sp.Writable || sp.DisplayAddress != 40001 {
		t.Fatalf("row = %+v", sp)
	}
	if len(sp.Words) != 1 || sp.Words[0] != 25 {
		t.Fatalf("words = %v, want [25]", sp.Words)
	}

	if _, err := s.Snapshot("nope"); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}

func TestShutdown_StopsEverything(t *testing.T) {
	s := New(testSet(t), 20*time.Millisecond, zerolog.Nop())

	portA, portB := freePort(t), freePort(t)
	if _, err := s.Add("127.0.0.1", portA, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add("127.0.0.1", portB, 2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Shutdown()

	if n := len(s.List()); n != 0 {
		t.Fatalf("List() = %d sims after shutdown, want 0", n)
	}

	// the ports are released
	for _, port := range []int{portA, portB} {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			t.Fatalf("port %d still bound after shutdown: %v", port, err)
		}
		l.Close()
	}
}
