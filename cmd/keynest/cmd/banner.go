package cmd

import (
	"fmt"
	"io"

	"github.com/keynest/keynest/internal/ui"
)

const banner = `
  _  __          _   _           _   
 | |/ /___ _   _| \ | | ___  ___| |_ 
 | ' // _ \ | | |  \| |/ _ \/ __| __|
 | . \  __/ |_| | |\  |  __/\__ \ |_ 
 |_|\_\___|\__, |_| \_|\___||___/\__|
           |___/                     
`

func printBanner(w io.Writer) {
	fmt.Fprint(w, ui.Banner.Sprint(banner))
	fmt.Fprintln(w, ui.Success.Sprintf("  Passphrase-protected key storage - Version %s", Version))
	fmt.Fprintln(w)
}
