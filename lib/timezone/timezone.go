package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
}

// force timezone to be KST because the portal renders due dates in
// campus-local time, and day arithmetic based on
// <time.Time>.Year()/Month()/Day() breaks when a server ends up in UTC
func Now() time.Time {
	return time.Now().In(Location)
}
