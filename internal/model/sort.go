package model

import "sort"

func sortStringsStdlib(s []string) {
	sort.Strings(s)
}
