package main

import (
	"github.com/lunixbochs/machsym/go/cmd"

	_ "github.com/lunixbochs/machsym/go/cmd/dump"
	_ "github.com/lunixbochs/machsym/go/cmd/lookup"
	_ "github.com/lunixbochs/machsym/go/cmd/ptrsize"
	_ "github.com/lunixbochs/machsym/go/cmd/symbols"
)

func main() { cmd.Main() }
