package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает данные версии, заполняемые через -ldflags при сборке.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает только версию; удобно для health endpoint.
func GetVersion() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
