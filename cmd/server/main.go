package main

import (
	"socialgraph/internal/logging"
	"socialgraph/internal/transport/http"
)

func main() {
	if err := http.Run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}
