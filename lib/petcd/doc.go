// Package petcd provides a client for the etcd v2 keys API.
//
// Basic usage:
//
//	client, err := petcd.New("http://localhost:7379/v2")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// store a value
//	resp, err := client.Set(ctx, "/app/config", `{"debug": true}`, nil)
//
//	// compare-and-swap on the index returned by the previous call
//	_, err = client.Set(ctx, "/app/config", `{"debug": false}`,
//	    &petcd.SetOptions{PrevIndex: petcd.Ptr(resp.Node.ModifiedIndex)})
//	if errors.Is(err, petcd.ErrComparisonFailed) {
//	    // someone else changed it
//	}
//
//	// list a directory
//	resp, err = client.Ls(ctx, "/app", &petcd.LsOptions{Recursive: true, Sorted: true})
//
//	// watch for changes
//	w, err := client.Watch(ctx, "/app", &petcd.WatchOptions{Recursive: true})
//	for {
//	    ev, err := w.Next(ctx)
//	    if err != nil {
//	        break // petcd.ErrEventIndexCleared means the watcher fell behind the store history
//	    }
//	    fmt.Println(ev.Action, ev.Node.Key)
//	}
//
// With a cluster:
//
//	client, err := petcd.New("http://10.0.0.1:2379/v2",
//	    petcd.WithMembers("http://10.0.0.2:2379/v2", "http://10.0.0.3:2379/v2"),
//	    petcd.WithRetries(3),
//	    petcd.WithTimeout(5*time.Second),
//	)
//
// Transport errors and 5xx responses are retried on the next member, redirects to the leader are followed
// without consuming retries. Retries apply to all requests including unconditional sets and appends,
// so such a request may be applied more than once; use PrevIndex or PrevExist to make it idempotent.
package petcd
