package main

import (
	"github.com/sergev/fdxbridge/adapter"
	_ "github.com/sergev/fdxbridge/arduino"
	_ "github.com/sergev/fdxbridge/greaseweazle"
	_ "github.com/sergev/fdxbridge/kryoflux"
	_ "github.com/sergev/fdxbridge/supercardpro"
)

func main() {
	adapter.Execute()
}
