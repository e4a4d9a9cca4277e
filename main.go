package main

import copperminer "github.com/xmarre/Copperminer/cmd/copperminer"

func main() {
	copperminer.Execute()
}
