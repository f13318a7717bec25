package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Command
		wantErr bool
	}{
		{"nil defaults to serve", nil, CommandServe, false},
		{"empty defaults to serve", []string{}, CommandServe, false},
		{"leading flag defaults to serve", []string{"--port", "9000"}, CommandServe, false},
		{"serve", []string{"serve"}, CommandServe, false},
		{"migrate with extra args", []string{"migrate", "--verbose"}, CommandMigrate, false},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck, false},
		{"unknown", []string{"worker"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}
