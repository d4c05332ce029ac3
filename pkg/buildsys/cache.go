package buildsys

import (
	"encoding/gob"
	"os"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
	gob.Register(TaskCmdElmInit{})
	gob.Register(TaskCmdElm{})
	gob.Register(TaskCmdStart{})
	gob.Register(TaskCmdWatch{})
}

// cacheMeta holds everything the cached task list was derived from besides the script itself
type cacheMeta struct {
	Options map[string]string
	Files   map[string]bool
	Env     map[string]string
}

// WriteCache stores the tasks of an evaluated script together with the options, files and
// environment variables the evaluation depended on
func WriteCache(file string, options map[string]string, result *ScriptResult) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(cacheMeta{
		Options: options,
		Files:   result.Files,
		Env:     result.Env,
	})
	if err != nil {
		return err
	}

	return encoder.Encode(result.Tasks)
}

func readCache(file string) (*cacheMeta, TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var meta cacheMeta
	err = decoder.Decode(&meta)
	if err != nil {
		return nil, nil, err
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return &meta, nil, err
	}

	return &meta, result, nil
}

// LoadCached returns the cached task list unless the script, one of the files it read or one of the
// environment variables it read changed, or the options differ. ok is false if the script has to be
// evaluated again.
func LoadCached(cacheFile, script string, options map[string]string) (TaskList, bool) {
	cacheInfo, err := os.Stat(cacheFile)
	if err != nil {
		return nil, false
	}

	scriptInfo, err := os.Stat(script)
	if err != nil || scriptInfo.ModTime().After(cacheInfo.ModTime()) {
		return nil, false
	}

	meta, list, err := readCache(cacheFile)
	if err != nil || len(meta.Options) != len(options) {
		return nil, false
	}

	for key, value := range options {
		if cached, ok := meta.Options[key]; !ok || cached != value {
			return nil, false
		}
	}

	for path, existed := range meta.Files {
		info, err := os.Stat(path)
		if (err == nil) != existed {
			return nil, false
		}
		if err == nil && info.ModTime().After(cacheInfo.ModTime()) {
			return nil, false
		}
	}

	for name, value := range meta.Env {
		if os.Getenv(name) != value {
			return nil, false
		}
	}

	return list, true
}
