package gbl

import "log"

//HandleError aborts on a must-succeed operation, mostly around rendering
//and fixture IO where no error can be recovered from.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
