package cmd

import (
	"log"

	"v.io/x/lib/cmdline"
)

func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "jbrowse-utils",
			Short:    "Tools for preparing JBrowse data directories",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdPrepareRefseqs(),
			},
		})
}
