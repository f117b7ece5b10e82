package provisioning

import "testing"

func TestDecodeChange(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Change
		ok      bool
	}{
		{name: "created", payload: `{"common_name":"gw-1","action":"created","origin":"a"}`, want: Change{CommonName: "gw-1", Action: ActionCreated, Origin: "a"}, ok: true},
		{name: "deleted", payload: `{"common_name":"gw-1","action":"deleted"}`, want: Change{CommonName: "gw-1", Action: ActionDeleted}, ok: true},
		{name: "missing common name", payload: `{"action":"created"}`},
		{name: "garbage", payload: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeChange(tt.payload)
			if ok != tt.ok {
				t.Fatalf("decodeChange ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("decodeChange = %+v, want %+v", got, tt.want)
			}
		})
	}
}
